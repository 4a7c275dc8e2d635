package codes_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/listing-codes/codes"
)

func TestResolvePrefix(t *testing.T) {
	tests := []struct {
		name        string
		transaction string
		building    string
		want        codes.Prefix
	}{
		{"apartment", "매매", "아파트", "C"},
		{"apartment wins over monthly rent", "월세", "아파트", "C"},
		{"redevelopment", "매매", "재개발", "J"},
		{"reconstruction", "전세", "재건축 예정 빌라", "J"},
		{"commercial", "월세", "상가", "R"},
		{"office", "전세", "사무실", "R"},
		{"monthly rent", "월세", "빌라", "BO"},
		{"jeonse", "전세", "단독주택", "BL"},
		{"sale", "매매", "토지", "BM"},
		{"english labels", "Monthly Rent", "Villa", "BO"},
		{"english apartment", "sale", "APARTMENT", "C"},
		{"full-width latin", "ｓａｌｅ", "", "BM"},
		{"surrounding whitespace", "  전세  ", "", "BL"},
		{"unclassified empty", "", "", "X"},
		{"unclassified unknown", "교환", "창고", "X"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, codes.ResolvePrefix(tt.transaction, tt.building))
		})
	}
}

func TestResolvePrefix_DecomposedHangul(t *testing.T) {
	// GIVEN: "아파트" typed on a system that sends NFD jamo
	nfd := "\u110B\u1161\u1111\u1161\u1110\u1173"

	// THEN: It still resolves to C
	assert.Equal(t, codes.Prefix("C"), codes.ResolvePrefix("", nfd))
}

func TestResolvePrefix_Deterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		assert.Equal(t, codes.Prefix("BL"), codes.ResolvePrefix("전세", "빌라"))
	}
}

func TestResolver_CustomRules(t *testing.T) {
	r := codes.NewResolver([]codes.Rule{
		{Prefix: "OT", Field: codes.FieldBuilding, Keywords: []string{"오피스텔"}},
		{Prefix: "R", Field: codes.FieldBuilding, Keywords: []string{"오피스"}},
	}, "Z")

	assert.Equal(t, codes.Prefix("OT"), r.Resolve("월세", "오피스텔"))
	assert.Equal(t, codes.Prefix("R"), r.Resolve("월세", "오피스"))
	assert.Equal(t, codes.Prefix("Z"), r.Resolve("월세", "아파트"))
	assert.Equal(t, []codes.Prefix{"OT", "R", "Z"}, r.Prefixes())
}

func TestDefaultResolver_Prefixes(t *testing.T) {
	assert.Equal(t,
		[]codes.Prefix{"C", "J", "R", "BO", "BL", "BM", "X"},
		codes.DefaultResolver().Prefixes())
}
