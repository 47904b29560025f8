package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		" warn ":  logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"verbose": logrus.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestBuildersDoNotMutateParent(t *testing.T) {
	base := New("svc", "trace", "")
	child := base.WithField("document_id", "doc-1")

	assert.NotContains(t, base.entry.Data, "document_id")
	assert.Equal(t, "doc-1", child.entry.Data["document_id"])

	withPayload := child.WithPayload(map[string]interface{}{"stage": "chunked"})
	assert.NotContains(t, child.entry.Data, "payload")
	assert.Contains(t, withPayload.entry.Data, "payload")
}
