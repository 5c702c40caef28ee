package tile_manager

import (
	"context"
	"sync"

	"github.com/GrainArc/SouceGlobe/tile_proxy"
	"github.com/GrainArc/SouceGlobe/tiling"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxRequests 同时进行的瓦片请求数
const DefaultMaxRequests = 4

// tileRequest 请求槽位，同一时刻最多绑定一个瓦片
type tileRequest struct {
	tile   tiling.TileID
	cancel context.CancelFunc
	busy   bool
}

// completion 请求完成后交回帧循环的结果
type completion struct {
	slot      int
	image     tile_proxy.Result
	elevation tile_proxy.Result
	hasElev   bool
}

type scheduler struct {
	fetcher     tile_proxy.Fetcher
	requests    []*tileRequest
	free        []int
	completions chan completion
	notify      func()
	wg          sync.WaitGroup
}

func newScheduler(fetcher tile_proxy.Fetcher, slots int, notify func()) *scheduler {
	if slots <= 0 {
		slots = DefaultMaxRequests
	}
	s := &scheduler{
		fetcher:     fetcher,
		requests:    make([]*tileRequest, slots),
		free:        make([]int, 0, slots),
		completions: make(chan completion, slots),
		notify:      notify,
	}
	for i := slots - 1; i >= 0; i-- {
		s.requests[i] = &tileRequest{}
		s.free = append(s.free, i)
	}
	return s
}

// available 空闲槽位数
func (s *scheduler) available() int {
	return len(s.free)
}

func (s *scheduler) inFlight() int {
	return len(s.requests) - len(s.free)
}

func (s *scheduler) idle() bool {
	return len(s.free) == len(s.requests)
}

// acquire 取出一个空闲槽位，没有时返回-1
func (s *scheduler) acquire(id tiling.TileID) int {
	n := len(s.free)
	if n == 0 {
		return -1
	}
	slot := s.free[n-1]
	s.free = s.free[:n-1]
	req := s.requests[slot]
	req.tile = id
	req.busy = true
	return slot
}

func (s *scheduler) release(slot int) {
	req := s.requests[slot]
	if !req.busy {
		return
	}
	if req.cancel != nil {
		req.cancel()
	}
	*req = tileRequest{}
	s.free = append(s.free, slot)
}

// start 在后台获取影像与高程，两者并行
func (s *scheduler) start(ctx context.Context, slot int, imageURL, elevationURL string) {
	req := s.requests[slot]
	if imageURL == "" && elevationURL == "" {
		s.completions <- completion{slot: slot, image: tile_proxy.Result{Outcome: tile_proxy.Success}}
		s.notify()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	req.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c := completion{slot: slot, hasElev: elevationURL != ""}
		var g errgroup.Group
		if imageURL != "" {
			g.Go(func() error {
				c.image = s.fetcher.Fetch(ctx, imageURL)
				return nil
			})
		} else {
			c.image = tile_proxy.Result{Outcome: tile_proxy.Success}
		}
		if elevationURL != "" {
			g.Go(func() error {
				c.elevation = s.fetcher.Fetch(ctx, elevationURL)
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			c.image.Outcome = tile_proxy.Aborted
		}
		s.completions <- c
		s.notify()
	}()
}

// abortAll 取消所有进行中的请求，槽位在完成结果到达时回收
func (s *scheduler) abortAll() {
	for _, req := range s.requests {
		if req.busy && req.cancel != nil {
			req.cancel()
		}
	}
}

// wait 等待所有后台获取结束
func (s *scheduler) wait() {
	s.wg.Wait()
}

// drain 回收已完成但未处理的槽位
func (s *scheduler) drain() {
	for {
		select {
		case c := <-s.completions:
			s.release(c.slot)
		default:
			return
		}
	}
}
