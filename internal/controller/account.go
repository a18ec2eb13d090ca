package controller

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"object-proxy/internal/lookupcache"
	"object-proxy/internal/replication"
	"object-proxy/internal/ring"
)

// AccountController implements spec.md §4.6.1.
type AccountController struct{ Deps *Deps }

func NewAccountController(d *Deps) *AccountController { return &AccountController{Deps: d} }

// Register mounts the account routes on the given gin group (the path is
// already scoped to /v1/:account by the caller).
func (ac *AccountController) Register(g gin.IRoutes) {
	g.GET("", ac.handleGet)
	g.HEAD("", ac.handleGet)
	g.PUT("", ac.handleMutate)
	g.POST("", ac.handleMutate)
	g.DELETE("", ac.handleMutate)
}

func handoffCounter(c *gin.Context) func(ring.Device) {
	n := 0
	c.Set("handoffs_used", 0)
	return func(ring.Device) {
		n++
		c.Set("handoffs_used", n)
	}
}

func (ac *AccountController) handleGet(c *gin.Context) {
	account := c.Param("account")
	if r := ac.authorize(c, account); r != nil {
		writeAuthResult(c, r)
		return
	}

	result, err := ac.fanoutRead(c, account)
	if err != nil {
		writeProxyErr(c, err)
		return
	}

	if result.Status == http.StatusNotFound && ac.Deps.Cfg.AccountAutocreate {
		status, perr := ac.autocreate(c, account)
		if perr != nil {
			writeProxyErr(c, perr)
			return
		}
		if status < 200 || status >= 300 {
			// The autocreate PUT itself was denied (e.g. 403/409) — surface
			// that status directly rather than retrying the read, which
			// would just see the account still missing (spec.md §8
			// scenario 6).
			writeBackendResult(c, replication.Result{Status: status})
			return
		}
		result, err = ac.fanoutRead(c, account)
		if err != nil {
			writeProxyErr(c, err)
			return
		}
	}

	if result.Status >= 200 && result.Status < 300 {
		ac.Deps.Cache.Set(account, lookupcache.Entry{Status: result.Status}, 10*time.Second)
	} else {
		ac.Deps.Cache.Delete(account)
	}
	writeBackendResult(c, result)
}

func (ac *AccountController) fanoutRead(c *gin.Context, account string) (replication.Result, error) {
	partition, it, _ := ac.Deps.candidates(account, "", "", handoffCounter(c))
	req := replication.FanoutRequest{
		Method:  c.Request.Method,
		PathFor: pathForBuilder(partition, account, "", ""),
		Headers: c.Request.Header.Clone(),
		Newest:  c.GetHeader("X-Newest") == "true",
	}
	return ac.Deps.Dispatcher.Read(c.Request.Context(), it, req)
}

// autocreate issues a PUT against the account's own ring nodes so a
// subsequent read finds it (spec.md §4.6.1). It returns the PUT's resolved
// status so the caller can short-circuit on a denied create (403/409)
// instead of blindly retrying the read — decideWriteOutcome returns a nil
// error for any resolved modal status, 2xx or not.
func (ac *AccountController) autocreate(c *gin.Context, account string) (int, error) {
	partition, it, replicas := ac.Deps.candidates(account, "", "", nil)
	req := replication.FanoutRequest{
		Method:       http.MethodPut,
		PathFor:      pathForBuilder(partition, account, "", ""),
		Headers:      http.Header{"X-Timestamp": []string{NewTimestamp(time.Now())}},
		ReplicaCount: replicas,
	}
	result, err := ac.Deps.Dispatcher.WriteNoBody(c.Request.Context(), it, req)
	if err != nil {
		return 0, err
	}
	return result.Status, nil
}

func (ac *AccountController) handleMutate(c *gin.Context) {
	account := c.Param("account")
	if !ac.Deps.Cfg.AllowAccountManagement {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	if r := ac.authorize(c, account); r != nil {
		writeAuthResult(c, r)
		return
	}
	if err := ValidateMetadata(c.Request.Header, ac.Deps.Cfg); err != nil {
		writeProxyErr(c, err)
		return
	}

	partition, it, replicas := ac.Deps.candidates(account, "", "", handoffCounter(c))
	headers := cloneHeaders(c.Request.Header)
	headers.Set("X-Timestamp", NewTimestamp(time.Now()))

	var body io.Reader
	contentLength := int64(0)
	if c.Request.Method == http.MethodPut {
		body = c.Request.Body
		contentLength = c.Request.ContentLength
	}

	req := replication.FanoutRequest{
		Method:        c.Request.Method,
		PathFor:       pathForBuilder(partition, account, "", ""),
		Headers:       headers,
		Body:          body,
		ContentLength: contentLength,
		ReplicaCount:  replicas,
	}

	var result replication.Result
	var err error
	if body != nil {
		result, err = ac.Deps.Dispatcher.Write(c.Request.Context(), it, req)
	} else {
		result, err = ac.Deps.Dispatcher.WriteNoBody(c.Request.Context(), it, req)
	}
	if err != nil {
		writeProxyErr(c, err)
		return
	}
	ac.Deps.Cache.Delete(account)
	writeBackendResult(c, result)
}

func (ac *AccountController) authorize(c *gin.Context, account string) *AuthResult {
	if ac.Deps.Authorize == nil {
		return nil
	}
	return ac.Deps.Authorize(c.Request, account)
}
