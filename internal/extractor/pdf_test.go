package extractor

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// onePagePDF builds a minimal valid PDF whose single content stream shows
// marker, with title in the document info dictionary.
func onePagePDF(marker, title string) []byte {
	var b bytes.Buffer
	offsets := make([]int, 7)
	writeObj := func(n int, body string) {
		offsets[n] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", n, body)
	}

	b.WriteString("%PDF-1.4\n")
	stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", marker)
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>")
	writeObj(4, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	writeObj(5, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	writeObj(6, fmt.Sprintf("<< /Title (%s) >>", title))

	xrefPos := b.Len()
	b.WriteString("xref\n0 7\n")
	b.WriteString("0000000000 65535 f \n")
	for n := 1; n <= 6; n++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size 7 /Root 1 0 R /Info 6 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefPos)
	return b.Bytes()
}

func TestPDFExtractTextAndTitle(t *testing.T) {
	e := newPDFExtractor(arbor.NewLogger())

	text, title, err := e.extract(onePagePDF("HelloPayload", "Attention Is All You Need"))
	require.NoError(t, err)
	assert.Equal(t, "Attention Is All You Need", title)
	assert.Contains(t, text, "HelloPayload")
}

func TestConcurrentPDFExtractionsAreIsolated(t *testing.T) {
	e := newPDFExtractor(arbor.NewLogger())

	markers := []string{"AlphaPayload", "BravoPayload", "CharliePayload", "DeltaPayload"}
	const rounds = 3

	texts := make([]string, len(markers)*rounds)
	errs := make([]error, len(markers)*rounds)

	var wg sync.WaitGroup
	for i := range texts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			texts[i], _, errs[i] = e.extract(onePagePDF(markers[i%len(markers)], "T"))
		}(i)
	}
	wg.Wait()

	for i, text := range texts {
		marker := markers[i%len(markers)]
		require.NoError(t, errs[i], "concurrent extraction %d", i)
		assert.Contains(t, text, marker, "extraction %d lost its own payload", i)
		for _, other := range markers {
			if other == marker {
				continue
			}
			assert.False(t, strings.Contains(text, other),
				"extraction %d picked up another call's payload %q", i, other)
		}
	}
}
