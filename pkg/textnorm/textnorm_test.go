package textnorm_test

import (
	"testing"

	"github.com/dukex/replyflow/pkg/textnorm"
	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "preco", textnorm.Fold("  Preço "))
	assert.Equal(t, "sao paulo", textnorm.Fold("SÃO Paulo"))
	assert.Equal(t, "", textnorm.Fold("   "))
}

func TestWords(t *testing.T) {
	assert.Equal(t, "what s the price", textnorm.Words("What's the PRICE?!"))
	assert.Equal(t, "hello world", textnorm.Words("  hello,   world  "))
}

func TestContainsAny(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		keywords []string
		want     bool
	}{
		{"keyword present", "what's the price?", []string{"price"}, true},
		{"case insensitive", "PRICE please", []string{"Price"}, true},
		{"accent insensitive", "qual o preço?", []string{"preco"}, true},
		{"multi word keyword", "I want to cancel my plan", []string{"cancel my plan"}, true},
		{"absent", "hello", []string{"price"}, false},
		{"part of a longer word", "a priceless offer", []string{"price"}, false},
		{"keyword at the end", "tell me the price", []string{"price"}, true},
		{"multi word keyword split", "cancel the plan", []string{"cancel plan"}, false},
		{"empty keyword ignored", "hello", []string{" ", "?"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, textnorm.ContainsAny(tt.text, tt.keywords))
		})
	}
}

func TestEqualsAny(t *testing.T) {
	assert.True(t, textnorm.EqualsAny(" Skip! ", []string{"skip"}))
	assert.False(t, textnorm.EqualsAny("please skip this", []string{"skip"}))
	assert.False(t, textnorm.EqualsAny("", []string{""}))
}
