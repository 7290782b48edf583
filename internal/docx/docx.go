// Package docx embeds gateway metadata into OOXML document containers. A .docx file
// is a zip whose metadata lives in well-known XML parts; deploying a template records
// the platform template identifier as a custom document property so the provenance
// travels inside the binary itself.
//
// Three parts are involved: docProps/custom.xml (the property store),
// [Content_Types].xml (MIME registration for every part), and _rels/.rels (the
// package-level relationship index). When custom.xml already exists only it is
// touched; when it has to be created the other two parts are extended — or
// synthesized — so the container stays valid. All edits happen against an in-memory
// part map and the output zip is assembled only after every edit has succeeded, so a
// failure partway never yields a half-patched container.
package docx

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const (
	customPropsPart  = "docProps/custom.xml"
	contentTypesPart = "[Content_Types].xml"
	packageRelsPart  = "_rels/.rels"

	customPropsContentType = "application/vnd.openxmlformats-officedocument.custom-properties+xml"
	customPropsRelType     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/custom-properties"

	customPropsNS = "http://schemas.openxmlformats.org/officeDocument/2006/custom-properties"
	vtNS          = "http://schemas.openxmlformats.org/officeDocument/2006/docPropsVTypes"
	relsNS        = "http://schemas.openxmlformats.org/package/2006/relationships"
	contentTypeNS = "http://schemas.openxmlformats.org/package/2006/content-types"

	// propertyFmtID is the fixed format id OOXML assigns to user-defined properties
	propertyFmtID = "{D5CDD505-2E9C-101B-9397-08002B2CF9AE}"

	// PropertyName is the custom property under which the template identifier is stored
	PropertyName = "SharedoTemplateId"

	// firstPid is the lowest property id OOXML allows for custom properties
	firstPid = 2
)

// EmbedTemplateID returns a copy of the container with templateID recorded as a
// custom document property. Entries other than the three metadata parts are
// carried over with their content unchanged.
func EmbedTemplateID(container []byte, templateID string) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(container), int64(len(container)))
	if err != nil {
		return nil, fmt.Errorf("failed to open document container: %w", err)
	}

	// Load every entry into an ordered in-memory part map
	names := make([]string, 0, len(reader.File))
	parts := make(map[string][]byte, len(reader.File))
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open container entry %s: %w", file.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read container entry %s: %w", file.Name, err)
		}
		names = append(names, file.Name)
		parts[file.Name] = data
	}

	if existing, ok := parts[customPropsPart]; ok {
		patched, err := appendProperty(existing, templateID)
		if err != nil {
			return nil, err
		}
		parts[customPropsPart] = patched
	} else {
		parts[customPropsPart] = newCustomProps(templateID)
		names = append(names, customPropsPart)

		ct, ctPresent := parts[contentTypesPart]
		updatedCT, err := ensureContentType(ct, ctPresent)
		if err != nil {
			return nil, err
		}
		parts[contentTypesPart] = updatedCT
		if !ctPresent {
			names = append(names, contentTypesPart)
		}

		rels, relsPresent := parts[packageRelsPart]
		updatedRels, err := ensureRelationship(rels, relsPresent)
		if err != nil {
			return nil, err
		}
		parts[packageRelsPart] = updatedRels
		if !relsPresent {
			names = append(names, packageRelsPart)
		}
	}

	// Assemble the output container only now, with every edit applied
	var out bytes.Buffer
	writer := zip.NewWriter(&out)
	for _, name := range names {
		w, err := writer.Create(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create container entry %s: %w", name, err)
		}
		if _, err := w.Write(parts[name]); err != nil {
			return nil, fmt.Errorf("failed to write container entry %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize container: %w", err)
	}

	return out.Bytes(), nil
}

// appendProperty adds one property to an existing custom-properties part, with a
// pid one greater than the current maximum. Existing properties are untouched.
func appendProperty(data []byte, templateID string) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse custom properties: %w", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "Properties" {
		return nil, fmt.Errorf("custom properties part has no Properties root")
	}

	maxPid := firstPid - 1
	for _, prop := range root.SelectElements("property") {
		if pid, err := strconv.Atoi(prop.SelectAttrValue("pid", "")); err == nil && pid > maxPid {
			maxPid = pid
		}
	}

	prop := root.CreateElement("property")
	prop.CreateAttr("fmtid", propertyFmtID)
	prop.CreateAttr("pid", strconv.Itoa(maxPid+1))
	prop.CreateAttr("name", PropertyName)
	value := prop.CreateElement("vt:lpwstr")
	value.SetText(templateID)

	return serialize(doc)
}

// newCustomProps synthesizes a custom-properties part with a single property.
func newCustomProps(templateID string) []byte {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)

	root := doc.CreateElement("Properties")
	root.CreateAttr("xmlns", customPropsNS)
	root.CreateAttr("xmlns:vt", vtNS)

	prop := root.CreateElement("property")
	prop.CreateAttr("fmtid", propertyFmtID)
	prop.CreateAttr("pid", strconv.Itoa(firstPid))
	prop.CreateAttr("name", PropertyName)
	value := prop.CreateElement("vt:lpwstr")
	value.SetText(templateID)

	out, _ := serialize(doc)
	return out
}

// ensureContentType registers the custom-properties MIME type in the content-types
// part, synthesizing a minimal part with the standard defaults when absent.
func ensureContentType(data []byte, present bool) ([]byte, error) {
	doc := etree.NewDocument()

	if present {
		if err := doc.ReadFromBytes(data); err != nil {
			return nil, fmt.Errorf("failed to parse content types: %w", err)
		}
	} else {
		doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
		root := doc.CreateElement("Types")
		root.CreateAttr("xmlns", contentTypeNS)
		relsDefault := root.CreateElement("Default")
		relsDefault.CreateAttr("Extension", "rels")
		relsDefault.CreateAttr("ContentType", "application/vnd.openxmlformats-package.relationships+xml")
		xmlDefault := root.CreateElement("Default")
		xmlDefault.CreateAttr("Extension", "xml")
		xmlDefault.CreateAttr("ContentType", "application/xml")
	}

	root := doc.Root()
	if root == nil || root.Tag != "Types" {
		return nil, fmt.Errorf("content types part has no Types root")
	}

	for _, override := range root.SelectElements("Override") {
		if override.SelectAttrValue("PartName", "") == "/"+customPropsPart {
			out, _ := serialize(doc)
			return out, nil
		}
	}

	override := root.CreateElement("Override")
	override.CreateAttr("PartName", "/"+customPropsPart)
	override.CreateAttr("ContentType", customPropsContentType)

	return serialize(doc)
}

// ensureRelationship links the custom-properties part from the package-level
// relationship index under a freshly computed unused relationship id,
// synthesizing a minimal index when absent.
func ensureRelationship(data []byte, present bool) ([]byte, error) {
	doc := etree.NewDocument()

	if present {
		if err := doc.ReadFromBytes(data); err != nil {
			return nil, fmt.Errorf("failed to parse package relationships: %w", err)
		}
	} else {
		doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
		root := doc.CreateElement("Relationships")
		root.CreateAttr("xmlns", relsNS)
	}

	root := doc.Root()
	if root == nil || root.Tag != "Relationships" {
		return nil, fmt.Errorf("package relationships part has no Relationships root")
	}

	maxID := 0
	for _, rel := range root.SelectElements("Relationship") {
		if rel.SelectAttrValue("Type", "") == customPropsRelType {
			out, _ := serialize(doc)
			return out, nil
		}
		id := rel.SelectAttrValue("Id", "")
		if n, err := strconv.Atoi(strings.TrimPrefix(id, "rId")); err == nil && n > maxID {
			maxID = n
		}
	}

	rel := root.CreateElement("Relationship")
	rel.CreateAttr("Id", "rId"+strconv.Itoa(maxID+1))
	rel.CreateAttr("Type", customPropsRelType)
	rel.CreateAttr("Target", customPropsPart)

	return serialize(doc)
}

func serialize(doc *etree.Document) ([]byte, error) {
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize container part: %w", err)
	}
	return out, nil
}
