package translate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	tmt "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tmt/v20180321"
)

type fakeTMT struct {
	calls   [][]string
	targets []string
	err     error
	short   bool
}

func (f *fakeTMT) TextTranslateBatchWithContext(_ context.Context, req *tmt.TextTranslateBatchRequest) (*tmt.TextTranslateBatchResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	var in []string
	for _, p := range req.SourceTextList {
		in = append(in, *p)
	}
	f.calls = append(f.calls, in)
	f.targets = append(f.targets, *req.Target)

	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToUpper(s))
	}
	if f.short {
		out = out[:len(out)-1]
	}
	resp := tmt.NewTextTranslateBatchResponse()
	resp.Response = &tmt.TextTranslateBatchResponseParams{TargetTextList: common.StringPtrs(out)}
	return resp, nil
}

func TestTranslateKeepsBlankLines(t *testing.T) {
	fake := &fakeTMT{}
	tr := newTencent(fake, "", 0)

	got, err := tr.Translate(context.Background(), []string{"hello", "", "world"})
	require.NoError(t, err)
	assert.Equal(t, []string{"HELLO", "", "WORLD"}, got)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, []string{"hello", "world"}, fake.calls[0])
	assert.Equal(t, "zh", fake.targets[0])
}

func TestTranslateSplitsBatches(t *testing.T) {
	fake := &fakeTMT{}
	tr := newTencent(fake, "en", 0)

	long := strings.Repeat("a", 1500)
	got, err := tr.Translate(context.Background(), []string{long, long, "b"})
	require.NoError(t, err)
	assert.Len(t, fake.calls, 2)
	assert.Equal(t, "B", got[2])
}

func TestTranslateErrors(t *testing.T) {
	_, err := newTencent(&fakeTMT{err: errors.New("quota")}, "zh", 0).Translate(context.Background(), []string{"x"})
	assert.Error(t, err)

	_, err = newTencent(&fakeTMT{short: true}, "zh", 0).Translate(context.Background(), []string{"x", "y"})
	assert.ErrorIs(t, err, ErrMismatch)
}
