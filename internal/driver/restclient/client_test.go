package restclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewValidation 基地址必须带 scheme 与 host
func TestNewValidation(t *testing.T) {
	// 测试用例1：合法地址，结尾斜杠剔除
	c, err := New(Config{BaseURL: "https://192.168.30.11:8443/"})
	require.NoError(t, err)
	assert.Equal(t, "https://192.168.30.11:8443", c.baseURL.String())

	// 测试用例2：缺 scheme 拒绝
	_, err = New(Config{BaseURL: "192.168.30.11:8443"})
	assert.Error(t, err)

	// 测试用例3：空地址拒绝
	_, err = New(Config{BaseURL: ""})
	assert.Error(t, err)
}

// TestGetDecodesJSON GET 响应按 JSON 解码
func TestGetDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/systems", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		fmt.Fprint(w, `{"name":"array01","capacity":1024}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	var out struct {
		Name     string `json:"name"`
		Capacity int64  `json:"capacity"`
	}
	require.NoError(t, c.Get(context.Background(), "/api/v1/systems", &out))
	assert.Equal(t, "array01", out.Name)
	assert.Equal(t, int64(1024), out.Capacity)
}

// TestPostEncodesBody POST 请求体按 JSON 编码并带 Content-Type
func TestPostEncodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "admin", body["username"])
		fmt.Fprint(w, `{"token":"abc"}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": "admin"}
	require.NoError(t, c.Post(context.Background(), "/login", body, &out))
	assert.Equal(t, "abc", out.Token)
}

// TestStatusErrorMapping 非 2xx 响应映射为 StatusError
func TestStatusErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/unauthorized":
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"session expired"}`)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "boom")
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	// 测试用例1：401 可被 IsUnauthorized 识别，响应体进错误信息
	err = c.Get(context.Background(), "/unauthorized", nil)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "session expired")

	// 测试用例2：404 可被 IsNotFound 识别
	err = c.Get(context.Background(), "/missing", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	// 测试用例3：其他状态码是普通 StatusError
	err = c.Get(context.Background(), "/oops", nil)
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.False(t, IsUnauthorized(err))

	// 测试用例4：非 StatusError 的错误不被识别
	assert.False(t, IsUnauthorized(fmt.Errorf("dial timeout")))
	assert.False(t, IsNotFound(nil))
}

// TestAuthHook 每个请求发出前注入鉴权头
func TestAuthHook(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Auth-Token")
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	c.SetAuthHook(func(req *http.Request) error {
		req.Header.Set("X-Auth-Token", "tok-1")
		return nil
	})

	require.NoError(t, c.Get(context.Background(), "/api", nil))
	assert.Equal(t, "tok-1", gotToken)

	// 注入失败时请求不应发出
	c.SetAuthHook(func(req *http.Request) error {
		return fmt.Errorf("no token available")
	})
	gotToken = ""
	err = c.Get(context.Background(), "/api", nil)
	require.Error(t, err)
	assert.Empty(t, gotToken)
}

// TestDelete DELETE 请求不解码响应
func TestDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.NoError(t, c.Delete(context.Background(), "/api/v1/tokens"))
}

// TestQueryPreserved 查询参数随路径透传
func TestQueryPreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "warning,error", r.URL.Query().Get("severity"))
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.Get(context.Background(), "/events?severity=warning,error", nil))
}

// TestDecodeFailure 响应不是合法 JSON 时报解码错误
func TestDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>not json</html>`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	var out map[string]interface{}
	err = c.Get(context.Background(), "/api", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
