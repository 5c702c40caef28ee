package tile_proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	MaxRetries   = 2
	RetryDelay   = 200 * time.Millisecond
	RetryBackoff = 2
)

// ErrInvalidTileData 返回内容不是有效瓦片
var ErrInvalidTileData = errors.New("invalid tile data")

// Outcome 获取结果类型
type Outcome int

const (
	Success Outcome = iota
	Failure
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Result 一次获取的结果
type Result struct {
	Outcome Outcome
	Status  int // Failure时的HTTP状态码，网络错误为0
	Data    []byte
	Err     error
}

// Fetcher 瓦片获取能力，ctx取消时返回Aborted
type Fetcher interface {
	Fetch(ctx context.Context, url string) Result
}

// FetcherFunc 函数适配
type FetcherFunc func(ctx context.Context, url string) Result

func (f FetcherFunc) Fetch(ctx context.Context, url string) Result {
	return f(ctx, url)
}

// TileStore 持久化瓦片缓存
type TileStore interface {
	GetTile(url string) ([]byte, bool, error)
	PutTile(url string, data []byte) error
}

// FetchOptions HTTP获取参数
type FetchOptions struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	UserAgent  string
	Cache      *TileCache
	Store      TileStore
}

// HTTPFetcher 带重试、合并请求与两级缓存的HTTP获取器
type HTTPFetcher struct {
	httpClient *http.Client
	retries    int
	retryDelay time.Duration
	userAgent  string
	cache      *TileCache
	store      TileStore
	group      singleflight.Group
}

// StatusError 非200响应
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tile server returned status: %d", e.Status)
}

// NewHTTPFetcher 创建HTTP获取器
func NewHTTPFetcher(opts FetchOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = RetryDelay
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
		userAgent:  opts.UserAgent,
		cache:      opts.Cache,
		store:      opts.Store,
	}
}

// Fetch 先查内存缓存与持久缓存，再合并并发的相同URL请求
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) Result {
	if f.cache != nil {
		if data, ok := f.cache.Get(url); ok {
			return Result{Outcome: Success, Data: data}
		}
	}
	if f.store != nil {
		data, ok, err := f.store.GetTile(url)
		if err != nil {
			logger.Warn("tile store lookup", "url", url, "err", err)
		} else if ok {
			if f.cache != nil {
				f.cache.Set(url, data)
			}
			return Result{Outcome: Success, Data: data}
		}
	}

	ch := f.group.DoChan(url, func() (interface{}, error) {
		// 合并后的请求不随单个调用方取消
		data, err := f.fetchTileWithRetry(context.WithoutCancel(ctx), url, f.retries)
		if err != nil {
			return nil, err
		}
		if f.cache != nil {
			f.cache.Set(url, data)
		}
		if f.store != nil {
			if err := f.store.PutTile(url, data); err != nil {
				logger.Warn("tile store save", "url", url, "err", err)
			}
		}
		return data, nil
	})

	select {
	case <-ctx.Done():
		return Result{Outcome: Aborted, Err: ctx.Err()}
	case r := <-ch:
		if r.Err != nil {
			res := Result{Outcome: Failure, Err: r.Err}
			var se *StatusError
			if errors.As(r.Err, &se) {
				res.Status = se.Status
			}
			return res
		}
		return Result{Outcome: Success, Data: r.Val.([]byte)}
	}
}

// fetchTileWithRetry 带重试的瓦片获取，4xx不重试
func (f *HTTPFetcher) fetchTileWithRetry(ctx context.Context, url string, maxRetries int) ([]byte, error) {
	var lastErr error
	delay := f.retryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay = delay * time.Duration(RetryBackoff)
			}
		}

		data, err := f.fetchTile(ctx, url)
		if err == nil {
			if isValidTileData(data) {
				return data, nil
			}
			err = ErrInvalidTileData
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
			break
		}
	}

	return nil, fmt.Errorf("fetch %s: %w", url, lastErr)
}

// fetchTile 获取单个瓦片
func (f *HTTPFetcher) fetchTile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tile failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	return data, nil
}

// isValidTileData 检查瓦片数据是否完整。非图像内容（如高程文本）只要求非空。
func isValidTileData(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	pngSignature := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	if len(data) >= 8 && string(data[:8]) == string(pngSignature) {
		// 签名 + IHDR
		return len(data) >= 33
	}

	if len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		n := len(data)
		return n >= 4 && data[n-2] == 0xFF && data[n-1] == 0xD9
	}

	if len(data) >= 4 && string(data[0:4]) == "RIFF" {
		return len(data) >= 12 && string(data[8:12]) == "WEBP"
	}

	return true
}
