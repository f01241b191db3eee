package types_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/cortexmem/cortexmem/pkg/types"
)

func TestDecodeContent_FactRequiresStatement(t *testing.T) {
	_, err := types.DecodeContent(types.TypeFact, json.RawMessage(`{"statement":""}`))
	if !errors.Is(err, types.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for blank statement, got %v", err)
	}
}

func TestDecodeContent_FactRejectsOutOfRangeConfidence(t *testing.T) {
	_, err := types.DecodeContent(types.TypeFact, json.RawMessage(`{"statement":"x","confidence":1.5}`))
	if !errors.Is(err, types.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for confidence out of [0,1], got %v", err)
	}
}

func TestDecodeContent_FactRejectsUnknownFields(t *testing.T) {
	_, err := types.DecodeContent(types.TypeFact, json.RawMessage(`{"statement":"x","bogus":1}`))
	if !errors.Is(err, types.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for unknown field, got %v", err)
	}
}

func TestDecodeContent_FactOK(t *testing.T) {
	c, err := types.DecodeContent(types.TypeFact, json.RawMessage(`{"statement":"fire is hot"}`))
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	fc, ok := c.(types.FactContent)
	if !ok {
		t.Fatalf("expected FactContent, got %T", c)
	}
	if fc.Project() != "fire is hot" {
		t.Fatalf("unexpected Project(): %q", fc.Project())
	}
}

func TestDecodeContent_EntityRequiresName(t *testing.T) {
	_, err := types.DecodeContent(types.TypeEntity, json.RawMessage(`{"name":" "}`))
	if !errors.Is(err, types.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for blank name, got %v", err)
	}
}

func TestDecodeContent_EntityProjectIsDeterministic(t *testing.T) {
	c, err := types.DecodeContent(types.TypeEntity, json.RawMessage(`{"name":"acme","attributes":{"b":2,"a":1}}`))
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	want := "acme a=1 b=2"
	if got := c.Project(); got != want {
		t.Fatalf("Project() = %q, want %q", got, want)
	}
}

func TestDecodeContent_ConversationRequiresNonEmptyMessages(t *testing.T) {
	_, err := types.DecodeContent(types.TypeConversation, json.RawMessage(`{"messages":[]}`))
	if !errors.Is(err, types.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for empty messages, got %v", err)
	}
}

func TestDecodeContent_ConversationRejectsUnknownRole(t *testing.T) {
	_, err := types.DecodeContent(types.TypeConversation, json.RawMessage(`{"messages":[{"role":"narrator","text":"hi"}]}`))
	if !errors.Is(err, types.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for unknown role, got %v", err)
	}
}

func TestDecodeContent_ConversationProjectJoinsTurns(t *testing.T) {
	c, err := types.DecodeContent(types.TypeConversation, json.RawMessage(`{"messages":[{"role":"user","text":"hi"},{"role":"assistant","text":"hello"}]}`))
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	want := "user: hi\nassistant: hello"
	if got := c.Project(); got != want {
		t.Fatalf("Project() = %q, want %q", got, want)
	}
}

func TestDecodeContent_ReflectionRequiresBody(t *testing.T) {
	_, err := types.DecodeContent(types.TypeReflection, json.RawMessage(`{"body":""}`))
	if !errors.Is(err, types.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for blank body, got %v", err)
	}
}

func TestDecodeContent_CodeRequiresLanguageAndCode(t *testing.T) {
	_, err := types.DecodeContent(types.TypeCode, json.RawMessage(`{"language":"go","code":""}`))
	if !errors.Is(err, types.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for blank code, got %v", err)
	}
}

func TestDecodeContent_CodeProject(t *testing.T) {
	c, err := types.DecodeContent(types.TypeCode, json.RawMessage(`{"language":"go","code":"fmt.Println(1)"}`))
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	want := "[go]\nfmt.Println(1)"
	if got := c.Project(); got != want {
		t.Fatalf("Project() = %q, want %q", got, want)
	}
}

func TestDecodeContent_UnknownType(t *testing.T) {
	_, err := types.DecodeContent(types.MemoryType("bogus"), json.RawMessage(`{}`))
	if !errors.Is(err, types.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for unknown type, got %v", err)
	}
}
