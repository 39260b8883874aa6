// SPDX-License-Identifier: MPL-2.0

// Package cueutil holds the CUE plumbing shared by manifests, configuration
// and the state file.
//
// Decoding follows one flow: compile the embedded schema, unify the input
// with the schema's root definition, validate, then decode into a Go value.
//
//	//go:embed manifest_schema.cue
//	var manifestSchema []byte
//
//	res, err := cueutil.ParseAndDecode[catalog.Manifest](
//	    manifestSchema, data, "#Manifest",
//	    cueutil.WithFilename("libs-5.1.cue"),
//	)
//
// Encoding goes the other way through the CUE evaluator and the canonical
// formatter, so generated files always re-parse against their schema.
package cueutil
