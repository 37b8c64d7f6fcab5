package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type lineWriter struct {
	lines []string
}

func (w *lineWriter) Printf(format string, args ...interface{}) {
	w.lines = append(w.lines, fmt.Sprintf(format, args...))
}

func TestGormLoggerIgnoresMissingRecords(t *testing.T) {
	w := &lineWriter{}
	l := newGormLogger(w)
	query := func() (string, int64) { return "SELECT * FROM workflow_executions", 0 }

	l.Trace(context.Background(), time.Now(), query, gorm.ErrRecordNotFound)
	assert.Empty(t, w.lines)

	l.Trace(context.Background(), time.Now(), query, errors.New("connection reset"))
	require.Len(t, w.lines, 1)
	assert.Contains(t, w.lines[0], "connection reset")
}
