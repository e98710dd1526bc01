package classify

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"Как установить Astra Linux?", "как установить astra linux"},
		{"RAID-контроллер, LSI!", "raidконтроллер lsi"},
		{"(Что) \"дальше\"...", "что дальше"},
		{"🔄 Restart", "🔄 restart"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	samples := []string{
		"", "Hello, World!", "а на сервере?", "IPMI/BIOS: настройка {UEFI}", "  mixed   CASE\tinput ",
		"Синий экран — код 0x0000007B", "sudo apt-get install ./pkg.deb",
	}
	for _, s := range samples {
		once := Normalize(s)
		assert.Equal(t, once, Normalize(once), "Normalize must be idempotent for %q", s)
	}
}

func TestClassify_KeywordSubstring(t *testing.T) {
	c := NewKeywordClassifier([]string{"RAID", "Astra Linux", "оперативная память"})

	for _, q := range []string{
		"Не виден raid массив",
		"настройка RAIDконтроллера",
		"ASTRA LINUX не грузится",
		"кончилась память",  // token of a multi-word keyword
		"где скачать astra", // token of a multi-word keyword
	} {
		v := c.Classify(q, "")
		assert.True(t, v.Technical, "expected %q to be technical", q)
		assert.NotEmpty(t, v.MatchedKeyword)
		assert.False(t, v.Continuation)
	}
}

func TestClassify_NoKeywordNoPrior(t *testing.T) {
	c := NewKeywordClassifier([]string{"raid", "bios"})
	for _, q := range []string{"привет", "как дела?", "", "!!!"} {
		assert.False(t, c.Classify(q, "").Technical, "expected %q to be rejected", q)
	}
}

func TestClassify_Continuation(t *testing.T) {
	c := NewKeywordClassifier([]string{"raid"})

	v := c.Classify("как установить windows", "как установить astra linux")
	require.True(t, v.Technical)
	assert.True(t, v.Continuation)
	assert.InDelta(t, 2.0/3.0, v.Similarity, 1e-9)

	v = c.Classify("а на сервере?", "как установить astra linux")
	assert.False(t, v.Technical)
	assert.Zero(t, v.Similarity)
}

func TestClassify_ThresholdIsStrict(t *testing.T) {
	c := NewKeywordClassifier([]string{"raid"})

	// 1 of 2 tokens shared: exactly 0.5.
	v := c.Classify("как установить", "как настроить")
	assert.Equal(t, 0.5, v.Similarity)
	assert.False(t, v.Technical, "similarity equal to the threshold must not count")

	question := strings.Join(words(100), " ")
	last50 := strings.Join(words(50), " ")
	last51 := strings.Join(words(51), " ")

	v = c.Classify(question, last50)
	assert.Equal(t, 0.5, v.Similarity)
	assert.False(t, v.Technical)

	v = c.Classify(question, last51)
	assert.InDelta(t, 0.51, v.Similarity, 1e-9)
	assert.True(t, v.Technical)
}

func TestClassify_CustomThreshold(t *testing.T) {
	c := NewKeywordClassifier([]string{"raid"}, WithSimilarityThreshold(0.3))
	assert.True(t, c.Classify("как установить", "как настроить").Technical)
}

func TestSimilarity_EmptyQuestion(t *testing.T) {
	assert.Zero(t, Similarity("", "как установить astra"))
	assert.Zero(t, Similarity("?!", "как установить astra"))
}

func TestSimilarity_DuplicateTokensCountOnceInIntersection(t *testing.T) {
	// Intersection is a set, the denominator is the raw token count.
	assert.InDelta(t, 1.0/3.0, Similarity("да да да", "да"), 1e-9)
}

func words(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("w%d", i)
	}
	return out
}
