package agent

import "fmt"

// State 定义 Agent 生命周期状态
type State string

const (
	StateIdle       State = "idle"       // 空闲，可接受任务
	StateProcessing State = "processing" // 执行中
	StateCompleted  State = "completed"  // 最近一次调用成功
	StateFailed     State = "failed"     // 最近一次调用失败
)

// validTransitions 定义合法的状态转换
var validTransitions = map[State][]State{
	StateIdle:       {StateProcessing},
	StateProcessing: {StateCompleted, StateFailed},
	StateCompleted:  {StateIdle}, // 下一次调用前回到空闲
	StateFailed:     {StateIdle},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition 非法状态转换错误
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
