// Package configs provides the embedded configuration template for amanrag.
//
// The template is written by 'amanrag config init', either to the user
// config (~/.config/amanrag/config.yaml) or, with --project, to
// .amanrag.yaml in the working directory.
//
// Configuration hierarchy (see internal/config Load):
//  1. Hardcoded defaults
//  2. User config
//  3. Project config (.amanrag.yaml)
//  4. Environment variables (AMANRAG_*)
package configs

import _ "embed"

// ConfigTemplate is a commented configuration with every default spelled out.
//
//go:embed amanrag.example.yaml
var ConfigTemplate string
