package odata_test

import (
	"testing"

	"github.com/michal-majer/s4kit-gateway/app/odata"
)

const v2Metadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx">
  <edmx:DataServices m:DataServiceVersion="2.0" xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">
    <Schema Namespace="API_BUSINESS_PARTNER" xmlns="http://schemas.microsoft.com/ado/2008/09/edm">
      <EntityType Name="A_BusinessPartnerType">
        <Key>
          <PropertyRef Name="BusinessPartner"/>
        </Key>
        <Property Name="BusinessPartner" Type="Edm.String" Nullable="false" MaxLength="10"/>
        <Property Name="FirstName" Type="Edm.String" MaxLength="40"/>
        <Property Name="CreditScore" Type="Edm.Decimal" Nullable="false" Precision="5" Scale="2"/>
        <NavigationProperty Name="to_BusinessPartnerAddress" Relationship="API_BUSINESS_PARTNER.assoc_Addresses" FromRole="FromRole_assoc_Addresses" ToRole="ToRole_assoc_Addresses"/>
      </EntityType>
      <EntityType Name="A_BusinessPartnerAddressType">
        <Key>
          <PropertyRef Name="AddressID"/>
        </Key>
        <Property Name="AddressID" Type="Edm.String" Nullable="false"/>
      </EntityType>
      <Association Name="assoc_Addresses">
        <End Role="FromRole_assoc_Addresses" Type="API_BUSINESS_PARTNER.A_BusinessPartnerType" Multiplicity="1"/>
        <End Role="ToRole_assoc_Addresses" Type="API_BUSINESS_PARTNER.A_BusinessPartnerAddressType" Multiplicity="*"/>
      </Association>
      <EntityContainer Name="Container" m:IsDefaultEntityContainer="true">
        <EntitySet Name="A_BusinessPartner" EntityType="API_BUSINESS_PARTNER.A_BusinessPartnerType"/>
        <EntitySet Name="A_BusinessPartnerAddress" EntityType="API_BUSINESS_PARTNER.A_BusinessPartnerAddressType"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

const v4Metadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="4.0" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
  <edmx:DataServices>
    <Schema Namespace="com.example.catalog" xmlns="http://docs.oasis-open.org/odata/ns/edm">
      <EntityType Name="Product">
        <Key>
          <PropertyRef Name="ID"/>
        </Key>
        <Property Name="ID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="Name" Type="Edm.String" MaxLength="80"/>
        <NavigationProperty Name="Supplier" Type="com.example.catalog.Supplier"/>
        <NavigationProperty Name="Reviews" Type="Collection(com.example.catalog.Review)"/>
      </EntityType>
      <EntityContainer Name="Container">
        <EntitySet Name="Products" EntityType="com.example.catalog.Product"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

func TestParseMetadata_V2(t *testing.T) {
	schema, err := odata.ParseMetadata([]byte(v2Metadata))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if schema.Version != odata.VersionV2 {
		t.Fatalf("expected v2, got %s", schema.Version)
	}
	if len(schema.EntitySets) != 2 {
		t.Fatalf("expected 2 entity sets, got %d", len(schema.EntitySets))
	}
	if schema.EntitySets[0].Name != "A_BusinessPartner" || schema.EntitySets[0].EntityType != "A_BusinessPartnerType" {
		t.Fatalf("unexpected entity set: %#v", schema.EntitySets[0])
	}

	bp := schema.EntityTypes[0]
	if bp.Name != "A_BusinessPartnerType" {
		t.Fatalf("unexpected entity type: %s", bp.Name)
	}
	if len(bp.Keys) != 1 || bp.Keys[0] != "BusinessPartner" {
		t.Fatalf("unexpected keys: %#v", bp.Keys)
	}
	if len(bp.Properties) != 3 {
		t.Fatalf("expected 3 properties, got %d", len(bp.Properties))
	}

	key := bp.Properties[0]
	if key.Nullable || !key.IsKey || key.MaxLength != 10 {
		t.Fatalf("unexpected key property: %#v", key)
	}
	firstName := bp.Properties[1]
	if !firstName.Nullable || firstName.MaxLength != 40 {
		t.Fatalf("unexpected nullable property: %#v", firstName)
	}
	score := bp.Properties[2]
	if score.Nullable || score.Precision != 5 || score.Scale != 2 {
		t.Fatalf("unexpected decimal property: %#v", score)
	}

	if len(bp.NavigationProperties) != 1 {
		t.Fatalf("expected 1 navigation property, got %d", len(bp.NavigationProperties))
	}
	nav := bp.NavigationProperties[0]
	if nav.Target != "A_BusinessPartnerAddressType" {
		t.Fatalf("unexpected navigation target: %s", nav.Target)
	}
	if !nav.Collection {
		t.Fatal("expected collection-valued navigation from * multiplicity")
	}
}

func TestParseMetadata_V4(t *testing.T) {
	schema, err := odata.ParseMetadata([]byte(v4Metadata))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if schema.Version != odata.VersionV4 {
		t.Fatalf("expected v4, got %s", schema.Version)
	}

	product := schema.EntityTypes[0]
	if len(product.NavigationProperties) != 2 {
		t.Fatalf("expected 2 navigation properties, got %d", len(product.NavigationProperties))
	}
	if product.NavigationProperties[0].Collection {
		t.Fatal("single-valued navigation misread as collection")
	}
	if !product.NavigationProperties[1].Collection || product.NavigationProperties[1].Target != "Review" {
		t.Fatalf("unexpected collection navigation: %#v", product.NavigationProperties[1])
	}
}

func TestParseMetadata_Malformed(t *testing.T) {
	if _, err := odata.ParseMetadata([]byte("not xml at all")); err == nil {
		t.Fatal("expected error for malformed document")
	}
	if _, err := odata.ParseMetadata([]byte(`<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx"><edmx:DataServices/></edmx:Edmx>`)); err == nil {
		t.Fatal("expected error for empty schema")
	}
}

func TestExtractTypes_RoundTrip(t *testing.T) {
	schema, err := odata.ParseMetadata([]byte(v2Metadata))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	index := odata.ExtractTypes(schema)
	shape := index.Shapes["A_BusinessPartner"]
	if shape == nil || shape.Untyped {
		t.Fatalf("expected typed shape, got %#v", shape)
	}

	if len(shape.Read) != 3 {
		t.Fatalf("expected 3 read fields, got %d", len(shape.Read))
	}
	if shape.Read[0].Optional || !shape.Read[0].IsKey {
		t.Fatalf("key field must be required: %#v", shape.Read[0])
	}
	if !shape.Read[1].Optional {
		t.Fatalf("nullable field must be optional: %#v", shape.Read[1])
	}
	if shape.Read[2].Optional {
		t.Fatalf("non-nullable field must be required: %#v", shape.Read[2])
	}

	if len(shape.Create) != 2 {
		t.Fatalf("create shape must omit the key: %#v", shape.Create)
	}
	for _, f := range shape.Create {
		if f.Name == "BusinessPartner" {
			t.Fatal("create shape contains the key field")
		}
	}

	if len(shape.Update) != 3 {
		t.Fatalf("expected 3 update fields, got %d", len(shape.Update))
	}
	for _, f := range shape.Update {
		if !f.Optional {
			t.Fatalf("update field must be optional: %#v", f)
		}
	}

	if len(shape.Navigations) != 1 {
		t.Fatalf("expected 1 navigation, got %d", len(shape.Navigations))
	}
	nav := shape.Navigations[0]
	if nav.Target != "A_BusinessPartnerAddressType" || !nav.Collection {
		t.Fatalf("unexpected navigation: %#v", nav)
	}
}

func TestExtractTypes_PluralizationFallback(t *testing.T) {
	schema := &odata.Schema{
		Version: odata.VersionV4,
		EntityTypes: []odata.EntityType{
			{Name: "Product", Properties: []odata.Property{{Name: "ID", IsKey: true}}},
		},
		EntitySets: []odata.EntitySet{
			{Name: "Products", EntityType: "MissingType"},
			{Name: "Orders", EntityType: "AlsoMissing"},
		},
	}

	index := odata.ExtractTypes(schema)
	if index.Shapes["Products"].Untyped {
		t.Fatal("expected pluralization fallback to resolve Products -> Product")
	}
	if !index.Shapes["Orders"].Untyped {
		t.Fatal("expected untyped fallback for unresolvable set")
	}
}
