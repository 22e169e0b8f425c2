package parser

import (
	"reflect"
	"testing"
)

func TestTitle_FirstH1(t *testing.T) {
	body := "Intro line\n\n## Not this\n#   Foundation Epic  \n# Second\n"
	if got := Title(body); got != "Foundation Epic" {
		t.Errorf("Title = %q, want Foundation Epic", got)
	}
}

func TestTitle_None(t *testing.T) {
	if got := Title("#hashtag is not a heading\n## H2\n"); got != "" {
		t.Errorf("Title = %q, want empty", got)
	}
}

func TestLinks_Basic(t *testing.T) {
	body := "See [[EPIC-001]] and [[FEATURE-002|the parser]] plus [[EPIC-001]] again, [[STORY-003#Notes]]."
	want := []string{"EPIC-001", "FEATURE-002", "STORY-003"}
	if got := Links(body); !reflect.DeepEqual(got, want) {
		t.Errorf("Links = %v, want %v", got, want)
	}
}

func TestLinks_EmptyTarget(t *testing.T) {
	if got := Links("broken [[ ]] and [[|alias]]"); len(got) != 0 {
		t.Errorf("Links = %v, want none", got)
	}
}
