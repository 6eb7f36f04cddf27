package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("Fatura de março: R$ 245,90", 10)
	assert.Len(t, ids, 10)
	assert.Len(t, types, 10)
	assert.Equal(t, int64(clsToken), ids[0])
	// cls + 6 words + sep
	assert.Equal(t, int64(sepToken), ids[7])
	for i := 0; i < 8; i++ {
		assert.Equal(t, int64(1), attn[i], "attention at %d", i)
	}
	assert.Equal(t, int64(0), attn[8])
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	ids, attn, _ := (&SimpleTokenizer{}).Tokenize("a b c d e f g h", 4)
	assert.Equal(t, []int64{1, 1, 1, 1}, attn)
	assert.Equal(t, int64(clsToken), ids[0])
	assert.Equal(t, int64(sepToken), ids[3])
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"consumo", "350", "kwh"}, SplitWords("  Consumo: 350 kWh  "))
	assert.Nil(t, SplitWords(""))
	assert.Nil(t, SplitWords(" ,. "))
}

func TestHashString(t *testing.T) {
	assert.Equal(t, HashString("abc"), HashString("abc"))
	assert.NotEqual(t, HashString("abc"), HashString("abd"))
	assert.GreaterOrEqual(t, HashString("anything"), 0)
}
