package docx

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p/></w:body></w:document>`

const baseContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const baseRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

const existingCustomProps = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/custom-properties" xmlns:vt="http://schemas.openxmlformats.org/officeDocument/2006/docPropsVTypes">
<property fmtid="{D5CDD505-2E9C-101B-9397-08002B2CF9AE}" pid="2" name="Matter"><vt:lpwstr>existing</vt:lpwstr></property>
<property fmtid="{D5CDD505-2E9C-101B-9397-08002B2CF9AE}" pid="5" name="Client"><vt:lpwstr>acme</vt:lpwstr></property>
</Properties>`

func buildContainer(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readPart(t *testing.T, container []byte, name string) (string, bool) {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(container), int64(len(container)))
	require.NoError(t, err)
	for _, f := range r.File {
		if f.Name == name {
			rc, err := f.Open()
			require.NoError(t, err)
			defer rc.Close()
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			return string(data), true
		}
	}
	return "", false
}

func customProperties(t *testing.T, container []byte) []*etree.Element {
	t.Helper()
	content, ok := readPart(t, container, "docProps/custom.xml")
	require.True(t, ok, "container should carry docProps/custom.xml")
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(content))
	return doc.Root().SelectElements("property")
}

func TestEmbedTemplateID_SynthesizesMissingParts(t *testing.T) {
	container := buildContainer(t, map[string]string{
		"word/document.xml": documentXML,
	})

	patched, err := EmbedTemplateID(container, "tpl-system-name")
	require.NoError(t, err)

	props := customProperties(t, patched)
	require.Len(t, props, 1)
	assert.Equal(t, "2", props[0].SelectAttrValue("pid", ""))
	assert.Equal(t, PropertyName, props[0].SelectAttrValue("name", ""))
	assert.Equal(t, "tpl-system-name", props[0].SelectElement("vt:lpwstr").Text())

	ct, ok := readPart(t, patched, "[Content_Types].xml")
	require.True(t, ok, "content types part should be synthesized")
	assert.Contains(t, ct, `PartName="/docProps/custom.xml"`)
	assert.Contains(t, ct, customPropsContentType)

	rels, ok := readPart(t, patched, "_rels/.rels")
	require.True(t, ok, "package rels part should be synthesized")
	assert.Contains(t, rels, customPropsRelType)
}

func TestEmbedTemplateID_AppendsToExistingProps(t *testing.T) {
	container := buildContainer(t, map[string]string{
		"word/document.xml":    documentXML,
		"[Content_Types].xml":  baseContentTypes,
		"_rels/.rels":          baseRels,
		"docProps/custom.xml":  existingCustomProps,
	})

	patched, err := EmbedTemplateID(container, "tpl-1")
	require.NoError(t, err)

	props := customProperties(t, patched)
	require.Len(t, props, 3)

	added := props[2]
	assert.Equal(t, "6", added.SelectAttrValue("pid", ""), "pid should be max existing + 1")
	assert.Equal(t, "tpl-1", added.SelectElement("vt:lpwstr").Text())

	// Existing properties must survive untouched
	assert.Equal(t, "existing", props[0].SelectElement("vt:lpwstr").Text())
	assert.Equal(t, "acme", props[1].SelectElement("vt:lpwstr").Text())
}

func TestEmbedTemplateID_MonotonicPidsAcrossBothPaths(t *testing.T) {
	container := buildContainer(t, map[string]string{
		"word/document.xml": documentXML,
	})

	// First patch synthesizes (pid 2), second patch appends (pid 3).
	once, err := EmbedTemplateID(container, "first")
	require.NoError(t, err)
	twice, err := EmbedTemplateID(once, "second")
	require.NoError(t, err)

	props := customProperties(t, twice)
	require.Len(t, props, 2)
	assert.Equal(t, "2", props[0].SelectAttrValue("pid", ""))
	assert.Equal(t, "3", props[1].SelectAttrValue("pid", ""))
}

func TestEmbedTemplateID_ExtendsExistingContentTypesAndRels(t *testing.T) {
	container := buildContainer(t, map[string]string{
		"word/document.xml":   documentXML,
		"[Content_Types].xml": baseContentTypes,
		"_rels/.rels":         baseRels,
	})

	patched, err := EmbedTemplateID(container, "tpl-1")
	require.NoError(t, err)

	ct, _ := readPart(t, patched, "[Content_Types].xml")
	assert.Contains(t, ct, `PartName="/word/document.xml"`, "existing override preserved")
	assert.Contains(t, ct, `PartName="/docProps/custom.xml"`)

	rels, _ := readPart(t, patched, "_rels/.rels")
	assert.Contains(t, rels, `Id="rId1"`, "existing relationship preserved")
	assert.Contains(t, rels, `Id="rId2"`, "new relationship uses next free id")
}

func TestEmbedTemplateID_DocumentContentUntouched(t *testing.T) {
	container := buildContainer(t, map[string]string{
		"word/document.xml":   documentXML,
		"[Content_Types].xml": baseContentTypes,
		"_rels/.rels":         baseRels,
	})

	patched, err := EmbedTemplateID(container, "tpl-1")
	require.NoError(t, err)

	content, ok := readPart(t, patched, "word/document.xml")
	require.True(t, ok)
	assert.Equal(t, documentXML, content)
}

func TestEmbedTemplateID_NotAContainer(t *testing.T) {
	_, err := EmbedTemplateID([]byte("plain text"), "tpl-1")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "container"))
}
