package manager

import (
	"sort"

	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
)

// WaitForGraph 事务等待图。不自带锁，由 LockManager 在持有自身互斥锁时使用。
type WaitForGraph struct {
	edges map[basic.TransactionID]map[basic.TransactionID]bool // waiter -> 它等待的事务
}

func NewWaitForGraph() *WaitForGraph {
	return &WaitForGraph{
		edges: make(map[basic.TransactionID]map[basic.TransactionID]bool),
	}
}

// SetWaitFor 用新的被等待集合替换 waiter 的出边
func (g *WaitForGraph) SetWaitFor(waiter basic.TransactionID, holders []basic.TransactionID) {
	delete(g.edges, waiter)
	for _, h := range holders {
		if h == waiter {
			continue
		}
		if g.edges[waiter] == nil {
			g.edges[waiter] = make(map[basic.TransactionID]bool)
		}
		g.edges[waiter][h] = true
	}
}

// RemoveWaiter 移除 waiter 的出边
func (g *WaitForGraph) RemoveWaiter(waiter basic.TransactionID) {
	delete(g.edges, waiter)
}

// RemoveTransaction 移除与事务相关的所有边
func (g *WaitForGraph) RemoveTransaction(tid basic.TransactionID) {
	delete(g.edges, tid)
	for waiter, waitSet := range g.edges {
		delete(waitSet, tid)
		if len(waitSet) == 0 {
			delete(g.edges, waiter)
		}
	}
}

// IsWaiting 事务是否有出边
func (g *WaitForGraph) IsWaiting(tid basic.TransactionID) bool {
	return len(g.edges[tid]) > 0
}

// FindCycle 从 start 深度优先搜索，返回遇到的第一个环上的事务，无环返回nil
func (g *WaitForGraph) FindCycle(start basic.TransactionID) []basic.TransactionID {
	onStack := make(map[basic.TransactionID]int)
	done := make(map[basic.TransactionID]bool)
	var stack []basic.TransactionID

	var dfs func(cur basic.TransactionID) []basic.TransactionID
	dfs = func(cur basic.TransactionID) []basic.TransactionID {
		if idx, ok := onStack[cur]; ok {
			cycle := make([]basic.TransactionID, len(stack)-idx)
			copy(cycle, stack[idx:])
			return cycle
		}
		if done[cur] {
			return nil
		}
		onStack[cur] = len(stack)
		stack = append(stack, cur)
		for _, next := range g.successors(cur) {
			if cycle := dfs(next); cycle != nil {
				return cycle
			}
		}
		stack = stack[:len(stack)-1]
		delete(onStack, cur)
		done[cur] = true
		return nil
	}
	return dfs(start)
}

// successors 按事务ID排序，保证搜索顺序稳定
func (g *WaitForGraph) successors(tid basic.TransactionID) []basic.TransactionID {
	out := make([]basic.TransactionID, 0, len(g.edges[tid]))
	for h := range g.edges[tid] {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot 获取等待图的快照(用于调试)
func (g *WaitForGraph) Snapshot() map[basic.TransactionID][]basic.TransactionID {
	result := make(map[basic.TransactionID][]basic.TransactionID, len(g.edges))
	for waiter := range g.edges {
		result[waiter] = g.successors(waiter)
	}
	return result
}
