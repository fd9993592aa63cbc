// Package collaboration 提供 Agent、工作流引擎与外部监听者之间的进程内消息总线。
//
// Bus 按接收者键投递结构化消息，支持点对点与广播（"*"）订阅。
// 单个分发 goroutine 按发布顺序逐条处理消息；每个处理器独立 recover，
// 一个处理器的 panic 不会影响同一消息的其他处理器或后续消息。
// 总线是尽力而为、至多一次的：没有重投，也不保证无订阅者时的送达。
package collaboration
