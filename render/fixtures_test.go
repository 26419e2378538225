package render

import (
	"errors"
	"testing"

	"github.com/hazyhaar/docpeek/internal/testdoc"
)

var errReleasedForTest = errors.New("artifact released")

type memArtifact struct {
	data     []byte
	ct       string
	released bool
	reads    int
}

func (m *memArtifact) Bytes() ([]byte, error) {
	if m.released {
		return nil, errReleasedForTest
	}
	m.reads++
	return m.data, nil
}

func (m *memArtifact) ContentType() string { return m.ct }

func buildZip(t *testing.T, entries [][2]string) []byte {
	t.Helper()
	return testdoc.Zip(entries...)
}

var (
	slideXML = testdoc.SlideXML
	docxXML  = testdoc.DocxXML
	buildPDF = testdoc.PDF
)
