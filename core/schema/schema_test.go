package schema_test

import (
	"testing"

	"github.com/relabs-tech/gateway/core/schema"
)

const (
	ref1 = `{ "type" : "string" ,
		      "$id" : "http://some_host.com/string.json"}`
	ref2 = `{ "$id" : "http://some_host.com/maxlength.json",
	 		  "maxLength" : 5 }`

	top_level1 = `
	{ "$id" : "http://some_host.com/top1.json",
	  "allOf" : [
		{ "$ref" : "http://some_host.com/string.json" },
		{ "$ref" : "http://some_host.com/maxlength.json" }
		]
	}`
	top_level2 = `
	{ "$id" : "http://some_host.com/top2.json",
	  "allOf" : [
 		{ "$ref" : "http://some_host.com/string.json" },
 		{ "type": "string", "minlength": 3 }
	  ]
	}`
)

func TestValidateString(t *testing.T) {
	v, err := schema.NewValidator([]string{top_level1, top_level2}, []string{ref1, ref2})
	if err != nil {
		t.Fatalf("No error expected when creating validator, got %v", err)
	}

	schemaID1 := "http://some_host.com/top1.json"
	schemaID2 := "http://some_host.com/top2.json"
	jsonShortString := `"short"`
	jsonLongString := `"a very long string"`

	// Valid json
	if err := v.ValidateString(jsonShortString, schemaID1); err != nil {
		t.Fatalf("%s is expected to be valid with schema %s. Reported error was: %v", jsonShortString, schemaID1, err)
	}

	// Invalid json
	if err := v.ValidateString(jsonLongString, schemaID1); err == nil {
		t.Fatalf("%s is expected to be invalid with schema %s. Reported error was: %v", jsonLongString, schemaID1, err)
	}

	// Valid json
	if err := v.ValidateString(jsonLongString, schemaID2); err != nil {
		t.Fatalf("%s is expected to be valid with schema %s. Reported error was: %v", jsonLongString, schemaID2, err)
	}
	// Valid json
	if err := v.ValidateString(jsonLongString, schemaID2); err != nil {
		t.Fatalf("%s is expected to be valid with schema %s. Reported error was: %v", jsonLongString, schemaID2, err)
	}

}

func TestHasSchema(t *testing.T) {
	v, err := schema.NewValidator([]string{top_level1, top_level2}, []string{ref1, ref2})
	if err != nil {
		t.Fatalf("No error expected when creating validator, got %v", err)
	}

	schemaID := "http://some_host.com/top1.json"
	if !v.HasSchema(schemaID) {
		t.Fatalf("%s schemaID is expected to be available", schemaID)
	}
	schemaID = "http://some_host.com/top2.json"
	if !v.HasSchema(schemaID) {
		t.Fatalf("%s schemaID is expected to be available", schemaID)
	}

	schemaID = "http://some_host.com/unknownscehma.json"
	if v.HasSchema(schemaID) {
		t.Fatalf("%s schemaID is not expected to be available", schemaID)
	}
}

func TestAuthTokenResponse(t *testing.T) {
	v, err := schema.Auth()
	if err != nil {
		t.Fatalf("No error expected when loading auth schemas, got %v", err)
	}
	if !v.HasSchema(schema.TokenResponseID) || !v.HasSchema(schema.ErrorResponseID) {
		t.Fatal("auth schemas are expected to be available")
	}

	valid := []string{
		`{"token":"a.b.c"}`,
		`{"token":"a.b.c","refreshToken":"r"}`,
		`{"token":"a.b.c","refreshToken":null,"role":"creator","user":{"id":1}}`,
	}
	for _, doc := range valid {
		if err := v.ValidateBytes([]byte(doc), schema.TokenResponseID); err != nil {
			t.Fatalf("%s is expected to be valid, got %v", doc, err)
		}
	}

	invalid := []string{
		`{}`,
		`{"token":""}`,
		`{"token":42}`,
		`{"token":"a.b.c","refreshToken":7}`,
		`[]`,
	}
	for _, doc := range invalid {
		if err := v.ValidateBytes([]byte(doc), schema.TokenResponseID); err == nil {
			t.Fatalf("%s is expected to be invalid", doc)
		}
	}
}

func TestAuthErrorResponse(t *testing.T) {
	v, err := schema.Auth()
	if err != nil {
		t.Fatal(err)
	}
	valid := []string{
		`{"message":"nope"}`,
		`{"message":"invalid","errors":{"email":"is required"}}`,
		`{"errors":[{"param":"email","msg":"is required"}]}`,
	}
	for _, doc := range valid {
		if err := v.ValidateBytes([]byte(doc), schema.ErrorResponseID); err != nil {
			t.Fatalf("%s is expected to be valid, got %v", doc, err)
		}
	}
	if err := v.ValidateBytes([]byte(`{"message":3}`), schema.ErrorResponseID); err == nil {
		t.Fatal("numeric message is expected to be invalid")
	}
}
