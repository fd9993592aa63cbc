package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/orchestra"
	"github.com/BaSui01/orchestra/agent"
	"github.com/BaSui01/orchestra/agent/collaboration"
)

// maxSleep 限制 sleep agent 单次等待时长
const maxSleep = 5 * time.Minute

// isProbe 注册表健康探测会带上 probe=true
func isProbe(input map[string]any) bool {
	probe, _ := input["probe"].(bool)
	return probe
}

// echoLogic 原样返回任务文本
type echoLogic struct{}

func (echoLogic) Execute(_ context.Context, task string, _ map[string]any) (any, error) {
	return task, nil
}

func (echoLogic) Ping(context.Context) error { return nil }

// upperLogic 返回大写后的任务文本
type upperLogic struct{}

func (upperLogic) Execute(_ context.Context, task string, _ map[string]any) (any, error) {
	return strings.ToUpper(task), nil
}

func (upperLogic) Ping(context.Context) error { return nil }

// sleepLogic 等待任务文本给出的时长（如 "250ms"），可被取消
type sleepLogic struct{}

func (sleepLogic) Execute(ctx context.Context, task string, input map[string]any) (any, error) {
	if isProbe(input) {
		return "0s", nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(task))
	if err != nil {
		return nil, fmt.Errorf("sleep: invalid duration %q: %w", task, err)
	}
	if d < 0 || d > maxSleep {
		return nil, fmt.Errorf("sleep: duration %s out of range [0, %s]", d, maxSleep)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return d.String(), nil
	}
}

func (sleepLogic) Ping(context.Context) error { return nil }

// announceLogic 把任务文本作为通知广播到总线
type announceLogic struct {
	bus *collaboration.Bus
}

func (a announceLogic) Execute(ctx context.Context, task string, input map[string]any) (any, error) {
	if isProbe(input) {
		return nil, a.Ping(ctx)
	}
	payload := map[string]any{"text": task}
	if wf, ok := input["workflow"]; ok {
		payload["workflow"] = wf
	}
	msg := collaboration.NewMessage("announce", collaboration.Broadcast, collaboration.MessageTypeNotice, payload)
	if err := a.bus.Publish(ctx, msg); err != nil {
		return nil, err
	}
	return msg.ID, nil
}

// Ping 总线停止后探测失败
func (a announceLogic) Ping(context.Context) error {
	if !a.bus.Running() {
		return collaboration.ErrBusStopped
	}
	return nil
}

// registerBuiltinAgents 注册随服务一起发布的内置 agent
func registerBuiltinAgents(rt *orchestra.Runtime) error {
	builtins := []struct {
		name  string
		logic agent.Logic
		caps  []string
	}{
		{"echo", echoLogic{}, []string{"text"}},
		{"uppercase", upperLogic{}, []string{"text", "transform"}},
		{"sleep", sleepLogic{}, []string{"timing"}},
		{"announce", announceLogic{bus: rt.Bus()}, []string{"notify"}},
	}
	for _, b := range builtins {
		if _, err := rt.RegisterAgent(b.name, b.logic, b.caps...); err != nil {
			return fmt.Errorf("register builtin agent %s: %w", b.name, err)
		}
	}
	return nil
}
