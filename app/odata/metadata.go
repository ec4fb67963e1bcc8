package odata

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Protocol versions, detected from the schema document.
const (
	VersionV2 = "v2"
	VersionV4 = "v4"
)

// Schema is the parsed $metadata document.
type Schema struct {
	Version     string
	Namespace   string
	EntitySets  []EntitySet
	EntityTypes []EntityType
}

type EntitySet struct {
	Name       string
	EntityType string
}

type EntityType struct {
	Name                 string
	Keys                 []string
	Properties           []Property
	NavigationProperties []NavigationProperty
}

type Property struct {
	Name      string
	Type      string
	Nullable  bool
	MaxLength int
	Precision int
	Scale     int
	IsKey     bool
}

type NavigationProperty struct {
	Name       string
	Target     string
	Collection bool
}

type edmxDocument struct {
	XMLName      xml.Name `xml:"Edmx"`
	Version      string   `xml:"Version,attr"`
	DataServices struct {
		Schemas []edmxSchema `xml:"Schema"`
	} `xml:"DataServices"`
}

type edmxSchema struct {
	Namespace    string            `xml:"Namespace,attr"`
	EntityTypes  []edmxEntityType  `xml:"EntityType"`
	Associations []edmxAssociation `xml:"Association"`
	Containers   []edmxContainer   `xml:"EntityContainer"`
}

type edmxEntityType struct {
	Name       string            `xml:"Name,attr"`
	Keys       []edmxPropertyRef `xml:"Key>PropertyRef"`
	Properties []edmxProperty    `xml:"Property"`
	NavProps   []edmxNavProperty `xml:"NavigationProperty"`
}

type edmxPropertyRef struct {
	Name string `xml:"Name,attr"`
}

type edmxProperty struct {
	Name      string `xml:"Name,attr"`
	Type      string `xml:"Type,attr"`
	Nullable  string `xml:"Nullable,attr"`
	MaxLength string `xml:"MaxLength,attr"`
	Precision string `xml:"Precision,attr"`
	Scale     string `xml:"Scale,attr"`
}

type edmxNavProperty struct {
	Name string `xml:"Name,attr"`
	// v4 form: Type="Collection(ns.Target)" or Type="ns.Target".
	Type string `xml:"Type,attr"`
	// v2 form: association reference plus role names.
	Relationship string `xml:"Relationship,attr"`
	ToRole       string `xml:"ToRole,attr"`
}

type edmxAssociation struct {
	Name string `xml:"Name,attr"`
	Ends []struct {
		Role         string `xml:"Role,attr"`
		Type         string `xml:"Type,attr"`
		Multiplicity string `xml:"Multiplicity,attr"`
	} `xml:"End"`
}

type edmxContainer struct {
	EntitySets []struct {
		Name       string `xml:"Name,attr"`
		EntityType string `xml:"EntityType,attr"`
	} `xml:"EntitySet"`
}

// ParseMetadata parses a $metadata document into a Schema, detecting
// whether the service speaks v2 or v4 from the edmx version marker.
func ParseMetadata(document []byte) (*Schema, error) {
	var doc edmxDocument
	if err := xml.Unmarshal(document, &doc); err != nil {
		return nil, fmt.Errorf("malformed metadata document: %w", err)
	}

	schema := &Schema{Version: VersionV2}
	if strings.HasPrefix(doc.Version, "4") {
		schema.Version = VersionV4
	}

	for _, s := range doc.DataServices.Schemas {
		if schema.Namespace == "" && s.Namespace != "" {
			schema.Namespace = s.Namespace
		}

		for _, et := range s.EntityTypes {
			schema.EntityTypes = append(schema.EntityTypes, convertEntityType(et, s.Associations))
		}
		for _, container := range s.Containers {
			for _, set := range container.EntitySets {
				schema.EntitySets = append(schema.EntitySets, EntitySet{
					Name:       set.Name,
					EntityType: unqualify(set.EntityType),
				})
			}
		}
	}

	if len(schema.EntitySets) == 0 && len(schema.EntityTypes) == 0 {
		return nil, fmt.Errorf("metadata document declares no entity sets or types")
	}
	return schema, nil
}

func convertEntityType(et edmxEntityType, associations []edmxAssociation) EntityType {
	out := EntityType{Name: et.Name}
	for _, ref := range et.Keys {
		out.Keys = append(out.Keys, ref.Name)
	}

	keySet := make(map[string]bool, len(out.Keys))
	for _, k := range out.Keys {
		keySet[k] = true
	}

	for _, p := range et.Properties {
		out.Properties = append(out.Properties, Property{
			Name: p.Name,
			Type: p.Type,
			// Absent Nullable means nullable per the protocol.
			Nullable:  p.Nullable != "false",
			MaxLength: atoiOrZero(p.MaxLength),
			Precision: atoiOrZero(p.Precision),
			Scale:     atoiOrZero(p.Scale),
			IsKey:     keySet[p.Name],
		})
	}

	for _, nav := range et.NavProps {
		out.NavigationProperties = append(out.NavigationProperties, convertNavProperty(nav, associations))
	}
	return out
}

func convertNavProperty(nav edmxNavProperty, associations []edmxAssociation) NavigationProperty {
	// v4: the wire type itself says whether it is a collection.
	if nav.Type != "" {
		if inner, ok := strings.CutPrefix(nav.Type, "Collection("); ok {
			return NavigationProperty{
				Name:       nav.Name,
				Target:     unqualify(strings.TrimSuffix(inner, ")")),
				Collection: true,
			}
		}
		return NavigationProperty{Name: nav.Name, Target: unqualify(nav.Type)}
	}

	// v2: resolve the association end named by ToRole.
	assocName := unqualify(nav.Relationship)
	for _, assoc := range associations {
		if assoc.Name != assocName {
			continue
		}
		for _, end := range assoc.Ends {
			if end.Role == nav.ToRole {
				return NavigationProperty{
					Name:       nav.Name,
					Target:     unqualify(end.Type),
					Collection: end.Multiplicity == "*",
				}
			}
		}
	}

	// No association declaration: fall back to the role naming
	// convention, where to-many roles are pluralized or tagged Many.
	collection := strings.HasSuffix(nav.ToRole, "Many") || strings.HasSuffix(nav.Name, "s")
	return NavigationProperty{
		Name:       nav.Name,
		Target:     unqualify(nav.ToRole),
		Collection: collection,
	}
}

func unqualify(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
