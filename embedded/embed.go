// Package embedded provides static assets compiled into the phasectl binary.
package embedded

import _ "embed"

// PlanSchema is the JSON Schema (draft 2020-12) for the roadmap document.
//
//go:embed schemas/plan.schema.json
var PlanSchema []byte

// PlanSchemaURL is the resource name the schema is compiled under.
const PlanSchemaURL = "https://phasegate.local/schemas/plan.schema.json"
