package types

import "testing"

func TestEstimateCounterLatin(t *testing.T) {
	e := NewEstimateCounter()

	if got := e.CountTokens(""); got != 0 {
		t.Errorf("empty text: got %d, want 0", got)
	}
	if got := e.CountTokens("abcd"); got != 1 {
		t.Errorf("4 latin chars: got %d, want 1", got)
	}
	if got := e.CountTokens("abcdefgh"); got != 2 {
		t.Errorf("8 latin chars: got %d, want 2", got)
	}
}

func TestEstimateCounterCJK(t *testing.T) {
	e := NewEstimateCounter()

	// one token per CJK character
	if got := e.CountTokens("你好世界"); got != 4 {
		t.Errorf("4 cjk chars: got %d, want 4", got)
	}
}

func TestEstimateCounterMessages(t *testing.T) {
	e := NewEstimateCounter()

	msgs := []Message{
		NewSystemMessage("be helpful"),
		NewUserMessage("hi"),
	}
	total := e.CountMessagesTokens(msgs)
	sum := e.CountMessageTokens(msgs[0]) + e.CountMessageTokens(msgs[1])
	if total != sum {
		t.Errorf("messages total %d != sum of parts %d", total, sum)
	}
	if total <= 2*msgOverhead {
		t.Errorf("total %d should exceed bare overhead", total)
	}
}
