package flowlog

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "version account-id interface-id srcaddr dstaddr srcport dstport protocol packets bytes start end action log-status"

func gz(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func line(i int) string {
	return fmt.Sprintf("2 123456789010 eni-1235b8ca123456789 172.31.16.%d 172.31.16.21 20641 22 6 20 4249 1418530010 1418530070 ACCEPT OK", i)
}

func TestParseAll_PreservesCountAndOrder(t *testing.T) {
	for _, n := range []int{0, 1, 7, 250} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			lines := []string{header}
			for i := 0; i < n; i++ {
				lines = append(lines, line(i))
			}

			recs, p, err := ParseAll(bytes.NewReader(gz(t, lines...)))
			require.NoError(t, err)
			require.Len(t, recs, n)
			assert.Empty(t, p.Skipped())
			assert.Equal(t, n+1, p.Lines())
			for i, r := range recs {
				src, ok := r.Get("srcaddr")
				require.True(t, ok)
				assert.Equal(t, fmt.Sprintf("172.31.16.%d", i), src)
				assert.Equal(t, i+2, r.Line)
			}
		})
	}
}

func TestParseAll_SkipsMalformedLines(t *testing.T) {
	data := gz(t,
		header,
		line(1),
		"2 123456789010 eni-1235b8ca123456789 172.31.16.139 172.31.16.21 20641", // truncated
		line(2),
		"",
		line(3),
		"garbage",
	)

	recs, p, err := ParseAll(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	skipped := p.Skipped()
	require.Len(t, skipped, 2)
	assert.Equal(t, 3, skipped[0].Line)
	assert.Contains(t, skipped[0].Reason, "expected 14 fields, got 6")
	assert.Equal(t, 7, skipped[1].Line)
	assert.Equal(t, "garbage", skipped[1].Raw)

	// 빈 줄은 라인 번호만 소비한다
	assert.Equal(t, 6, recs[2].Line)
}

func TestParseAll_SkipsOverLongLine(t *testing.T) {
	data := gz(t,
		header,
		line(1),
		line(2),
		strings.Repeat("x", 2<<20),
		line(3),
	)

	recs, p, err := ParseAll(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 5, recs[2].Line)

	skipped := p.Skipped()
	require.Len(t, skipped, 1)
	assert.Equal(t, 4, skipped[0].Line)
	assert.Contains(t, skipped[0].Reason, "line too long")
	assert.Len(t, skipped[0].Raw, maxRawPreview)
	assert.Equal(t, 5, p.Lines())
}

func TestParseAll_LastLineWithoutNewlineAndCRLF(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(header + "\r\n" + line(1) + "\r\n" + line(2)))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	recs, p, err := ParseAll(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Empty(t, p.Skipped())
	assert.Equal(t, 3, recs[1].Line)

	v, ok := recs[1].Get("log-status")
	require.True(t, ok)
	assert.Equal(t, "OK", v)
}

func TestParseAll_NoHeaderUsesDefaultFormat(t *testing.T) {
	recs, _, err := ParseAll(bytes.NewReader(gz(t, line(9))))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	v, ok := recs[0].Get("log-status")
	require.True(t, ok)
	assert.Equal(t, "OK", v)
}

func TestParseAll_CustomFormatHeader(t *testing.T) {
	data := gz(t,
		"vpc-id srcaddr dstaddr start end log-status flow-direction",
		"vpc-0a1b2c 10.0.1.5 52.95.110.1 1418530010 1418530070 OK egress",
	)

	recs, p, err := ParseAll(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 7, p.Format().Len())

	v, ok := recs[0].Get("flow-direction")
	require.True(t, ok)
	assert.Equal(t, "egress", v)

	_, ok = recs[0].Get("account-id")
	assert.False(t, ok)
}

func TestParseAll_NoDataTokens(t *testing.T) {
	recs, _, err := ParseAll(bytes.NewReader(gz(t,
		"2 123456789010 eni-1235b8ca123456789 - - - - - - - 1431280876 1431280934 - NODATA",
	)))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	_, ok := recs[0].Get("srcaddr")
	assert.False(t, ok)
	v, ok := recs[0].Get("log-status")
	assert.True(t, ok)
	assert.Equal(t, "NODATA", v)
}

func TestNewParser_NotGzip(t *testing.T) {
	_, err := NewParser(strings.NewReader(line(1)))
	require.ErrorIs(t, err, ErrMalformedStream)
}

func TestParseAll_TruncatedStream(t *testing.T) {
	lines := []string{header}
	for i := 0; i < 100; i++ {
		lines = append(lines, line(i))
	}
	data := gz(t, lines...)

	recs, _, err := ParseAll(bytes.NewReader(data[:len(data)/2]))
	require.ErrorIs(t, err, ErrMalformedStream)
	assert.Nil(t, recs)
}

func TestParseAll_CorruptChecksum(t *testing.T) {
	data := gz(t, header, line(1))
	// CRC32 trailer 손상
	data[len(data)-8] ^= 0xff

	_, _, err := ParseAll(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrMalformedStream)
}

func TestParseAll_MultiStream(t *testing.T) {
	data := append(gz(t, header, line(1)), gz(t, header, line(2))...)

	recs, _, err := ParseAll(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestIsHeader(t *testing.T) {
	assert.True(t, IsHeader(strings.Fields(header)))
	assert.True(t, IsHeader([]string{"version"}))
	assert.False(t, IsHeader(strings.Fields(line(1))))
	assert.False(t, IsHeader(nil))
	assert.False(t, IsHeader([]string{"version", "2"}))
}
