package codes_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"github.com/warp/listing-codes/codes"
)

func TestImport_DetectsCodeColumn(t *testing.T) {
	// GIVEN: A legacy sheet with a header row and codes in column 2
	csvData := "번호,매물코드,주소\n" +
		"1,C-0003,서울 마포구\n" +
		"2,C-0001,서울 용산구\n" +
		"3,,비고 없음\n" +
		"4,BL-0012,경기 성남시\n" +
		"5,엉터리,부산\n"

	ctx := context.Background()
	alloc, mem := newTestAllocator()

	// WHEN: Importing
	report, err := alloc.Import(ctx, strings.NewReader(csvData), codes.ImportOptions{})

	// THEN: Valid codes are committed and counters raised to the max
	require.NoError(t, err)
	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []string{"엉터리"}, report.Invalid)

	counters, err := mem.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[codes.Prefix]codes.Sequence{"C": 3, "BL": 12}, counters)

	next, err := alloc.Preview(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, codes.Code("C-0004"), next.Code)
}

func TestImport_EUCKR_NamedColumn(t *testing.T) {
	utf8 := "주소,코드\n서울 강남구,BM-0101\n서울 서초구,BM-0100\n"
	encoded, _, err := transform.String(korean.EUCKR.NewEncoder(), utf8)
	require.NoError(t, err)

	ctx := context.Background()
	alloc, mem := newTestAllocator()

	report, err := alloc.Import(ctx, strings.NewReader(encoded), codes.ImportOptions{
		Encoding: "cp949",
		Column:   "코드",
		Actor:    "migration",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)

	counter, err := mem.Counter(ctx, "BM")
	require.NoError(t, err)
	assert.Equal(t, codes.Sequence(101), counter)

	history, err := alloc.History(ctx, codes.HistoryFilter{Prefix: "BM"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, codes.SourceImport, history[0].Source)
	assert.Equal(t, "migration", history[0].Actor)
}

func TestImport_AlreadyUsedCodesAreSkipped(t *testing.T) {
	ctx := context.Background()
	alloc, _ := newTestAllocator()

	_, err := alloc.Reserve(ctx, "R", "")
	require.NoError(t, err)

	report, err := alloc.Import(ctx, strings.NewReader("R-0001\nR-0002\n"), codes.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Skipped)
}

func TestImport_SequenceAboveMaxIsInvalid(t *testing.T) {
	ctx := context.Background()
	alloc, _ := newTestAllocator()

	report, err := alloc.Import(ctx, strings.NewReader("code\nC-0003\nC-9223372036854775807\n"), codes.ImportOptions{Column: "code"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, []string{"C-9223372036854775807"}, report.Invalid)

	next, err := alloc.Preview(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, codes.Code("C-0004"), next.Code)
}

func TestImport_Errors(t *testing.T) {
	ctx := context.Background()
	alloc, _ := newTestAllocator()

	_, err := alloc.Import(ctx, strings.NewReader("a,b\n1,2\n"), codes.ImportOptions{})
	assert.ErrorIs(t, err, codes.ErrInvalidImport, "no code column")

	_, err = alloc.Import(ctx, strings.NewReader("a,b\n"), codes.ImportOptions{Column: "code"})
	assert.ErrorIs(t, err, codes.ErrInvalidImport, "missing named column")

	_, err = alloc.Import(ctx, strings.NewReader("C-0001\n"), codes.ImportOptions{Encoding: "latin-9"})
	assert.ErrorIs(t, err, codes.ErrInvalidImport, "unsupported encoding")

	report, err := alloc.Import(ctx, strings.NewReader(""), codes.ImportOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.Imported)
}
