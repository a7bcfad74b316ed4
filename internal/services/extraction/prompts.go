package extraction

import (
	"fmt"
	"strings"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// buildGroupSystemPrompt renders the per-field-group extraction
// instructions: the field contract, the group's hint and the strict-JSON
// output rules.
func buildGroupSystemPrompt(project *models.Project, group *models.FieldGroup) string {
	sourceType := project.Context.SourceType
	if sourceType == "" {
		sourceType = "documents"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are extracting %s from %s.\n\n", group.Description, sourceType)

	if group.IsEntityList {
		b.WriteString("Output a JSON object with a \"records\" array. Each record has these fields:\n")
	} else {
		b.WriteString("Output a JSON object with these fields:\n")
	}
	for _, f := range group.Fields {
		fmt.Fprintf(&b, "- %q (%s)", f.Name, f.Type)
		if f.Type == models.FieldTypeEnum {
			fmt.Fprintf(&b, " one of: %s", strings.Join(f.EnumValues, ", "))
		}
		if f.Description != "" {
			b.WriteString(": ")
			b.WriteString(f.Description)
		}
		b.WriteString("\n")
	}
	if group.PromptHint != "" {
		b.WriteString("\n")
		b.WriteString(group.PromptHint)
		b.WriteString("\n")
	}
	b.WriteString("\nAlso include a \"confidence\" number between 0.0 and 1.0.\n")
	b.WriteString("Rules: output strict JSON only. Use null for anything the text does not state. ")
	b.WriteString("Set booleans to true only on clear evidence, never by implication.")
	return b.String()
}

// buildGroupUserPrompt renders the chunk with its source context.
func buildGroupUserPrompt(project *models.Project, source *models.Source, chunk string, contentLimit int) string {
	chunk = common.CutRune(chunk, contentLimit)
	label := project.Context.SourceLabel
	if label == "" {
		label = "Source"
	}
	sourceContext := source.SourceGroup
	if sourceContext == "" {
		sourceContext = source.URI
	}
	return fmt.Sprintf("%s: %s\n\n%s", label, sourceContext, chunk)
}

// buildEntitySystemPrompt lists the project's entity types with their value
// hints.
func buildEntitySystemPrompt(project *models.Project) string {
	var b strings.Builder
	b.WriteString("You identify named entities in an extracted record. Entity types:\n")
	for _, et := range project.EntityTypes {
		fmt.Fprintf(&b, "- %q: %s", et.Name, et.Description)
		if et.ValueHint != "" {
			fmt.Fprintf(&b, " (values like: %s)", et.ValueHint)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nOutput a strict JSON array of objects with fields ")
	b.WriteString(`"entity_type", "value" and optional "attributes" (object). `)
	b.WriteString("Only report entities the record actually contains.")
	return b.String()
}

// buildEntityUserPrompt serializes the extraction data for the entity pass.
func buildEntityUserPrompt(extraction *models.Extraction) string {
	return fmt.Sprintf("Record type: %s\n\n%s", extraction.ExtractionType, extraction.CanonicalText())
}
