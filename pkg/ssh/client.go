// Package ssh 提供面向存储设备 CLI 的 SSH 执行能力：
// 单连接多会话复用、旧算法兼容、断链自动重连与连接池。
package ssh

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Config SSH客户端配置
type Config struct {
	// Timeout 建链超时，同时作为自动重连的超时窗口
	Timeout time.Duration `yaml:"timeout"`
	// KeepAlive 保活探测间隔，<=0 时不保活
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// Client SSH客户端，单个TCP连接上按需开启会话执行命令。
// 并发调用 ExecuteCommand 是安全的，每次调用使用独立会话。
type Client struct {
	config     *Config
	connection *ssh.Client
	mutex      sync.RWMutex
	// 保存最近一次成功连接的参数，用于在会话创建失败（如 EOF）时自动重连
	info *ConnectionInfo
	// 连接级保活停止信号，Close 时关闭
	stopKeepAlive chan struct{}
}

// ConnectionInfo SSH连接信息
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// CommandResult 命令执行结果
type CommandResult struct {
	Command  string        `json:"command"`
	Output   string        `json:"output"`
	Error    string        `json:"error"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// NewClient 创建SSH客户端
func NewClient(config *Config) *Client {
	return &Client{
		config: config,
	}
}

// Connect 连接SSH服务器
func (c *Client) Connect(ctx context.Context, info *ConnectionInfo) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// 记录连接参数以便后续自动重连
	c.info = info

	// 构建SSH配置
	sshConfig := &ssh.ClientConfig{
		User:            info.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.config.Timeout,
		Config: ssh.Config{
			// 兼容老固件存储设备的密钥交换算法
			KeyExchanges: []string{
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group-exchange-sha1",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
			},
			// 兼容老固件的加密算法
			Ciphers: []string{
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-cbc",
				"aes192-cbc",
				"aes256-cbc",
				"3des-cbc",
			},
			// 兼容老固件的MAC算法
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
				"hmac-sha1-96",
			},
		},
		// 兼容老固件的主机密钥算法
		HostKeyAlgorithms: []string{
			"ssh-rsa",
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
		},
	}

	// 设置认证方式
	if info.Password != "" {
		// 同时尝试 password 与 keyboard-interactive，部分阵列管理口只开后者
		sshConfig.Auth = []ssh.AuthMethod{
			ssh.Password(info.Password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = info.Password
				}
				return answers, nil
			}),
		}
	}

	// 连接SSH服务器
	address := fmt.Sprintf("%s:%d", info.Host, info.Port)

	// 使用context控制连接超时
	dialer := &net.Dialer{
		Timeout: c.config.Timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SSH connection: %w", err)
	}

	// 停掉上一条连接遗留的保活协程
	if c.stopKeepAlive != nil {
		close(c.stopKeepAlive)
	}
	c.connection = ssh.NewClient(sshConn, chans, reqs)
	c.stopKeepAlive = make(chan struct{})

	// 启动保活机制，保活协程随连接存活，Close 时退出
	go c.keepAlive(c.stopKeepAlive)

	return nil
}

// newSessionWithRetry 创建会话（带重试）
// 部分阵列对快速连续打开会话通道会返回
// "ssh: rejected: administratively prohibited (open failed)"，
// 进行短延迟重试以提高稳定性。
func (c *Client) newSessionWithRetry() (*ssh.Session, error) {
	c.mutex.RLock()
	conn := c.connection
	c.mutex.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("SSH connection not established")
	}

	// 退避策略：立即、200ms、500ms、1s、2s，共5次
	backoffs := []time.Duration{0, 200 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second, 2 * time.Second}
	var lastErr error
	for _, d := range backoffs {
		if d > 0 {
			time.Sleep(d)
		}
		c.mutex.RLock()
		conn = c.connection
		c.mutex.RUnlock()
		if conn == nil {
			return nil, fmt.Errorf("SSH connection not established")
		}
		sess, err := conn.NewSession()
		if err == nil {
			return sess, nil
		}
		lastErr = err
		// EOF 视为连接已被设备侧断开，按保存的参数重连一次后继续退避
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "eof") && c.info != nil {
			_ = c.Close()
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
			_ = c.Connect(ctx, c.info)
			cancel()
			// 短暂等待以让设备端就绪
			time.Sleep(200 * time.Millisecond)
			continue
		}
	}
	return nil, lastErr
}

// ExecuteCommand 执行单个命令并聚合标准输出与标准错误。
// ctx 超时或取消时关闭会话并返回已产生的输出。
func (c *Client) ExecuteCommand(ctx context.Context, command string) (*CommandResult, error) {
	startTime := time.Now()
	result := &CommandResult{
		Command: command,
	}

	// 创建会话（带重试）
	session, err := c.newSessionWithRetry()
	if err != nil {
		result.Error = fmt.Sprintf("failed to create session: %v", err)
		result.ExitCode = -1
		return result, err
	}
	defer session.Close()

	type execOutput struct {
		output []byte
		err    error
	}
	done := make(chan execOutput, 1)
	go func() {
		output, err := session.CombinedOutput(command)
		done <- execOutput{output: output, err: err}
	}()

	select {
	case out := <-done:
		result.Duration = time.Since(startTime)
		result.Output = string(out.output)
		if out.err != nil {
			result.Error = out.err.Error()
			if exitError, ok := out.err.(*ssh.ExitError); ok {
				result.ExitCode = exitError.ExitStatus()
			} else {
				result.ExitCode = -1
			}
			return result, out.err
		}
		result.ExitCode = 0
		return result, nil
	case <-ctx.Done():
		// 关闭会话促使 CombinedOutput 返回，避免协程滞留
		session.Close()
		result.Duration = time.Since(startTime)
		result.Error = "command timeout"
		result.ExitCode = -1
		return result, ctx.Err()
	}
}

// ExecuteCommands 批量执行命令，单条失败不中断后续命令
func (c *Client) ExecuteCommands(ctx context.Context, commands []string) ([]*CommandResult, error) {
	results := make([]*CommandResult, 0, len(commands))

	for _, command := range commands {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		result, err := c.ExecuteCommand(ctx, command)
		results = append(results, result)
		if err != nil {
			continue
		}
	}

	return results, nil
}

// Close 关闭SSH连接
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopKeepAlive != nil {
		close(c.stopKeepAlive)
		c.stopKeepAlive = nil
	}

	if c.connection != nil {
		err := c.connection.Close()
		c.connection = nil
		return err
	}

	return nil
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	conn := c.connection
	c.mutex.RUnlock()
	if conn == nil {
		return false
	}
	// 轻量级健康检查：发送 keepalive 请求而不创建会话，避免占用设备的会话配额
	_, _, err := conn.SendRequest("keepalive@openssh.com", false, nil)
	return err == nil
}

// keepAlive 保持连接活跃，探测失败时关闭连接以便池侧清理
func (c *Client) keepAlive(stop <-chan struct{}) {
	if c.config.KeepAlive <= 0 {
		return
	}

	ticker := time.NewTicker(c.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mutex.RLock()
			conn := c.connection
			c.mutex.RUnlock()
			if conn == nil {
				return
			}

			// 发送保活请求（不等待回复，避免不支持该请求的设备报错）
			if _, _, err := conn.SendRequest("keepalive@openssh.com", false, nil); err != nil {
				c.mutex.Lock()
				if c.connection == conn {
					_ = c.connection.Close()
					c.connection = nil
				}
				c.mutex.Unlock()
				return
			}
		}
	}
}

// GetConnectionStats 获取连接统计信息
func (c *Client) GetConnectionStats() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return map[string]interface{}{
		"connected": c.connection != nil,
	}
}
