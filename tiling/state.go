package tiling

// State 瓦片加载状态
type State int

const (
	StateError     State = -10
	StateNone      State = 0
	StateRequested State = 1
	StateLoading   State = 2
	StateLoaded    State = 3
)

func (s State) String() string {
	switch s {
	case StateError:
		return "ERROR"
	case StateNone:
		return "NONE"
	case StateRequested:
		return "REQUESTED"
	case StateLoading:
		return "LOADING"
	case StateLoaded:
		return "LOADED"
	}
	return "UNKNOWN"
}

type transition struct{ from, to State }

var legalTransitions = map[transition]bool{
	{StateNone, StateRequested}:    true,
	{StateRequested, StateLoading}: true,
	{StateRequested, StateNone}:    true,
	{StateLoading, StateLoaded}:    true,
	{StateLoading, StateError}:     true,
	{StateLoading, StateNone}:      true,
	{StateLoaded, StateNone}:       true,
	// 无需请求的同步生成
	{StateNone, StateLoaded}: true,
}

// LegalTransition 状态迁移是否合法
func LegalTransition(from, to State) bool {
	return legalTransitions[transition{from, to}]
}
