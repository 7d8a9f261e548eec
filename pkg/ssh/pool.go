package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pool SSH连接池。同一设备的并发借用共享一条连接，
// 借用计数归零且闲置超时后由清理协程回收。
type Pool struct {
	config      *Config
	connections map[string]*pooledConnection
	mutex       sync.RWMutex
	maxActive   int
	idleTimeout time.Duration
	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// pooledConnection 池化的连接
type pooledConnection struct {
	client   *Client
	info     *ConnectionInfo
	lastUsed time.Time
	// borrowed 当前借用数，多个并发调用共享同一条连接
	borrowed int
	created  time.Time
}

// PoolConfig 连接池配置
type PoolConfig struct {
	// MaxActive 允许同时保有的连接数上限
	MaxActive int `yaml:"max_active"`
	// IdleTimeout 无借用连接的闲置回收时间
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// CleanupInterval 清理协程扫描间隔，<=0 时取 30s
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	SSHConfig       *Config       `yaml:"ssh"`
}

// NewPool 创建SSH连接池
func NewPool(config *PoolConfig) *Pool {
	interval := config.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	pool := &Pool{
		config:      config.SSHConfig,
		connections: make(map[string]*pooledConnection),
		maxActive:   config.MaxActive,
		idleTimeout: config.IdleTimeout,
		stopCleanup: make(chan struct{}),
	}

	// 启动清理协程
	go pool.cleanup(interval)

	return pool
}

// GetConnection 获取SSH连接。已有连接存活时直接复用并累加借用计数，
// 用完必须配对调用 ReleaseConnection。
func (p *Pool) GetConnection(ctx context.Context, info *ConnectionInfo) (*Client, error) {
	key := p.getConnectionKey(info)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	// 查找现有连接
	if conn, exists := p.connections[key]; exists {
		if conn.client.IsConnected() {
			conn.borrowed++
			conn.lastUsed = time.Now()
			return conn.client, nil
		}
		// 连接已断开，删除后重建
		conn.client.Close()
		delete(p.connections, key)
	}

	// 检查连接数限制
	if p.maxActive > 0 && len(p.connections) >= p.maxActive {
		return nil, fmt.Errorf("connection pool is full, connections: %d", len(p.connections))
	}

	// 创建新连接
	client := NewClient(p.config)
	if err := client.Connect(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to create SSH connection: %w", err)
	}

	// 添加到连接池
	p.connections[key] = &pooledConnection{
		client:   client,
		info:     info,
		lastUsed: time.Now(),
		borrowed: 1,
		created:  time.Now(),
	}

	return client, nil
}

// ReleaseConnection 释放SSH连接
func (p *Pool) ReleaseConnection(info *ConnectionInfo) {
	key := p.getConnectionKey(info)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if conn, exists := p.connections[key]; exists {
		if conn.borrowed > 0 {
			conn.borrowed--
		}
		conn.lastUsed = time.Now()
	}
}

// CloseConnection 关闭指定连接
func (p *Pool) CloseConnection(info *ConnectionInfo) error {
	key := p.getConnectionKey(info)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if conn, exists := p.connections[key]; exists {
		err := conn.client.Close()
		delete(p.connections, key)
		return err
	}

	return nil
}

// ExecuteCommand 通过连接池执行命令
func (p *Pool) ExecuteCommand(ctx context.Context, info *ConnectionInfo, command string) (*CommandResult, error) {
	client, err := p.GetConnection(ctx, info)
	if err != nil {
		return nil, err
	}
	defer p.ReleaseConnection(info)

	return client.ExecuteCommand(ctx, command)
}

// ExecuteCommands 通过连接池批量执行命令
func (p *Pool) ExecuteCommands(ctx context.Context, info *ConnectionInfo, commands []string) ([]*CommandResult, error) {
	client, err := p.GetConnection(ctx, info)
	if err != nil {
		return nil, err
	}
	defer p.ReleaseConnection(info)

	return client.ExecuteCommands(ctx, commands)
}

// Close 关闭连接池并停止清理协程
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.stopCleanup)
	})

	p.mutex.Lock()
	defer p.mutex.Unlock()

	var lastErr error
	for key, conn := range p.connections {
		if err := conn.client.Close(); err != nil {
			lastErr = err
		}
		delete(p.connections, key)
	}

	return lastErr
}

// GetStats 获取连接池统计信息
func (p *Pool) GetStats() map[string]interface{} {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return map[string]interface{}{
		"total_connections": len(p.connections),
		"borrowed":          p.getBorrowedCount(),
		"idle_connections":  p.getIdleCount(),
		"max_active":        p.maxActive,
	}
}

// getConnectionKey 生成连接键
func (p *Pool) getConnectionKey(info *ConnectionInfo) string {
	return fmt.Sprintf("%s:%d@%s", info.Host, info.Port, info.Username)
}

// getBorrowedCount 获取总借用数
func (p *Pool) getBorrowedCount() int {
	count := 0
	for _, conn := range p.connections {
		count += conn.borrowed
	}
	return count
}

// getIdleCount 获取空闲连接数
func (p *Pool) getIdleCount() int {
	count := 0
	for _, conn := range p.connections {
		if conn.borrowed == 0 {
			count++
		}
	}
	return count
}

// cleanup 周期清理过期连接
func (p *Pool) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCleanup:
			return
		case <-ticker.C:
			p.cleanupExpiredConnections()
		}
	}
}

// cleanupExpiredConnections 清理闲置超时与已断开的连接
func (p *Pool) cleanupExpiredConnections() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	toDelete := make([]string, 0)

	for key, conn := range p.connections {
		// 无借用且闲置超时
		if conn.borrowed == 0 && p.idleTimeout > 0 && now.Sub(conn.lastUsed) > p.idleTimeout {
			toDelete = append(toDelete, key)
			continue
		}

		// 底层连接已断开
		if !conn.client.IsConnected() {
			toDelete = append(toDelete, key)
			continue
		}
	}

	for _, key := range toDelete {
		if conn, exists := p.connections[key]; exists {
			conn.client.Close()
			delete(p.connections, key)
		}
	}
}

// Health 健康检查
func (p *Pool) Health() error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	totalConnections := len(p.connections)
	if totalConnections == 0 {
		return nil // 没有连接也是正常的
	}

	connectedCount := 0
	for _, conn := range p.connections {
		if conn.client.IsConnected() {
			connectedCount++
		}
	}

	if connectedCount == 0 {
		return fmt.Errorf("all connections are disconnected")
	}

	return nil
}
