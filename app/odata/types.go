package odata

import "strings"

// FieldShape is one field of a generated data shape.
type FieldShape struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional"`
	IsKey    bool   `json:"isKey,omitempty"`
}

// NavigationShape links a navigation property to its resolved target
// type name.
type NavigationShape struct {
	Name       string `json:"name"`
	Target     string `json:"target"`
	Collection bool   `json:"collection"`
}

// EntityShape is the typed client surface projected from one entity
// type: the read shape, a create shape omitting key fields and an
// update shape with every field optional.
type EntityShape struct {
	Name        string            `json:"name"`
	Read        []FieldShape      `json:"read"`
	Create      []FieldShape      `json:"create"`
	Update      []FieldShape      `json:"update"`
	Navigations []NavigationShape `json:"navigations,omitempty"`
	Untyped     bool              `json:"untyped,omitempty"`
}

// TypeIndex maps each public entity-set name to its shape.
type TypeIndex struct {
	Version string                  `json:"version"`
	Shapes  map[string]*EntityShape `json:"shapes"`
}

// ExtractTypes projects the parsed schema into shapes, keyed by
// entity-set name. Sets whose type declaration cannot be located by
// reference, name or pluralization fall back to an untyped shape.
func ExtractTypes(schema *Schema) *TypeIndex {
	byName := make(map[string]*EntityType, len(schema.EntityTypes))
	for i := range schema.EntityTypes {
		byName[schema.EntityTypes[i].Name] = &schema.EntityTypes[i]
	}

	index := &TypeIndex{
		Version: schema.Version,
		Shapes:  make(map[string]*EntityShape, len(schema.EntitySets)),
	}
	for _, set := range schema.EntitySets {
		entityType := lookupType(byName, set)
		if entityType == nil {
			index.Shapes[set.Name] = &EntityShape{Name: set.Name, Untyped: true}
			continue
		}
		index.Shapes[set.Name] = buildShape(set.Name, entityType)
	}
	return index
}

func lookupType(byName map[string]*EntityType, set EntitySet) *EntityType {
	if t, ok := byName[set.EntityType]; ok {
		return t
	}
	if t, ok := byName[set.Name]; ok {
		return t
	}
	// Pluralization heuristic: "Products" -> "Product".
	if singular, ok := strings.CutSuffix(set.Name, "s"); ok {
		if t, ok := byName[singular]; ok {
			return t
		}
	}
	return nil
}

func buildShape(setName string, entityType *EntityType) *EntityShape {
	shape := &EntityShape{Name: setName}

	for _, p := range entityType.Properties {
		shape.Read = append(shape.Read, FieldShape{
			Name:     p.Name,
			Type:     p.Type,
			Optional: p.Nullable && !p.IsKey,
			IsKey:    p.IsKey,
		})
		if !p.IsKey {
			shape.Create = append(shape.Create, FieldShape{
				Name:     p.Name,
				Type:     p.Type,
				Optional: p.Nullable,
			})
		}
		shape.Update = append(shape.Update, FieldShape{
			Name:     p.Name,
			Type:     p.Type,
			Optional: true,
			IsKey:    p.IsKey,
		})
	}

	for _, nav := range entityType.NavigationProperties {
		shape.Navigations = append(shape.Navigations, NavigationShape{
			Name:       nav.Name,
			Target:     nav.Target,
			Collection: nav.Collection,
		})
	}
	return shape
}
