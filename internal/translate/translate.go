// Package translate turns resolved lyric lines into a second language for
// display next to the original.
package translate

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	tmt "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tmt/v20180321"
)

var logger = log.With().Str("component", "translate").Logger()

// 单次批量请求的字符上限
const maxBatchChars = 2000

var ErrMismatch = errors.New("translate: result count does not match input")

// Translator translates lines one-to-one.
type Translator interface {
	Translate(ctx context.Context, lines []string) ([]string, error)
}

type batchAPI interface {
	TextTranslateBatchWithContext(ctx context.Context, request *tmt.TextTranslateBatchRequest) (*tmt.TextTranslateBatchResponse, error)
}

// Tencent uses the TMT batch text endpoint.
type Tencent struct {
	api       batchAPI
	target    string
	projectID int64
}

// NewTencent 创建腾讯云翻译客户端
func NewTencent(secretID, secretKey, region, target string, projectID int64) (*Tencent, error) {
	credential := common.NewCredential(secretID, secretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.ReqMethod = "POST"
	cpf.HttpProfile.ReqTimeout = 10

	client, err := tmt.NewClient(credential, region, cpf)
	if err != nil {
		return nil, fmt.Errorf("failed to create tmt client: %w", err)
	}
	return newTencent(client, target, projectID), nil
}

func newTencent(api batchAPI, target string, projectID int64) *Tencent {
	if target == "" {
		target = "zh"
	}
	return &Tencent{api: api, target: target, projectID: projectID}
}

// Translate keeps blank lines blank and sends the rest in batches.
func (t *Tencent) Translate(ctx context.Context, lines []string) ([]string, error) {
	out := make([]string, len(lines))

	var (
		batch   []string
		indexes []int
		size    int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		got, err := t.translateBatch(ctx, batch)
		if err != nil {
			return err
		}
		for i, idx := range indexes {
			out[idx] = got[i]
		}
		batch, indexes, size = nil, nil, 0
		return nil
	}

	for i, line := range lines {
		if line == "" {
			continue
		}
		n := utf8.RuneCountInString(line)
		if size+n > maxBatchChars {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, line)
		indexes = append(indexes, i)
		size += n
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tencent) translateBatch(ctx context.Context, batch []string) ([]string, error) {
	request := tmt.NewTextTranslateBatchRequest()
	request.Source = common.StringPtr("auto")
	request.Target = common.StringPtr(t.target)
	request.ProjectId = common.Int64Ptr(t.projectID)
	request.SourceTextList = common.StringPtrs(batch)

	response, err := t.api.TextTranslateBatchWithContext(ctx, request)
	if err != nil {
		logger.Warn().Err(err).Int("lines", len(batch)).Msg("Batch translation failed")
		return nil, fmt.Errorf("failed to translate: %w", err)
	}
	if response.Response == nil || len(response.Response.TargetTextList) != len(batch) {
		return nil, ErrMismatch
	}

	got := make([]string, len(batch))
	for i, p := range response.Response.TargetTextList {
		if p != nil {
			got[i] = *p
		}
	}
	return got, nil
}
