package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"object-proxy/internal/lookupcache"
	"object-proxy/internal/proxyerr"
	"object-proxy/internal/replication"
)

// ContainerController implements spec.md §4.6.2.
type ContainerController struct{ Deps *Deps }

func NewContainerController(d *Deps) *ContainerController { return &ContainerController{Deps: d} }

func (cc *ContainerController) Register(g gin.IRoutes) {
	g.GET("", cc.handleGet)
	g.HEAD("", cc.handleGet)
	g.PUT("", cc.handlePut)
	g.POST("", cc.handlePost)
	g.DELETE("", cc.handleDelete)
}

func (cc *ContainerController) authorize(c *gin.Context, account string) *AuthResult {
	if cc.Deps.Authorize == nil {
		return nil
	}
	return cc.Deps.Authorize(c.Request, account)
}

func (cc *ContainerController) handleGet(c *gin.Context) {
	account, container := c.Param("account"), c.Param("container")
	if r := cc.authorize(c, account); r != nil {
		writeAuthResult(c, r)
		return
	}

	partition, it, _ := cc.Deps.candidates(account, container, "", handoffCounter(c))
	req := replication.FanoutRequest{
		Method:  c.Request.Method,
		PathFor: pathForBuilder(partition, account, container, ""),
		Headers: c.Request.Header.Clone(),
		Newest:  c.GetHeader("X-Newest") == "true",
	}
	result, err := cc.Deps.Dispatcher.Read(c.Request.Context(), it, req)
	if err != nil {
		writeProxyErr(c, err)
		return
	}
	writeBackendResult(c, result)
}

// headAccount resolves whether account exists, preferring the lookup
// cache, falling back to a HEAD against the account ring (spec.md §4.6.2:
// "require the account to exist (HEAD account first, autocreate if
// enabled, else 404)").
func (cc *ContainerController) headAccount(c *gin.Context, account string) (exists bool, containerCount int, err error) {
	if e, ok, cerr := cc.Deps.Cache.Get(account); cerr == nil && ok {
		count := 0
		if e.ContainerCount != nil {
			count = *e.ContainerCount
		}
		return e.Status >= 200 && e.Status < 300, count, nil
	}

	partition, it, _ := cc.Deps.candidates(account, "", "", nil)
	req := replication.FanoutRequest{
		Method:  http.MethodHead,
		PathFor: pathForBuilder(partition, account, "", ""),
		Headers: http.Header{},
	}
	result, rerr := cc.Deps.Dispatcher.Read(c.Request.Context(), it, req)
	if rerr != nil {
		return false, 0, nil
	}
	count := 0
	if n, perr := strconv.Atoi(result.Headers.Get("X-Account-Container-Count")); perr == nil {
		count = n
	}
	entry := lookupcache.Entry{Status: result.Status, ContainerCount: &count}
	cc.Deps.Cache.Set(account, entry, 10*time.Second)
	return result.Status >= 200 && result.Status < 300, count, nil
}

func (cc *ContainerController) ensureAccount(c *gin.Context, account string) error {
	exists, count, _ := cc.headAccount(c, account)
	if exists {
		if !cc.Deps.Cfg.ContainerWhitelisted(account) &&
			cc.Deps.Cfg.MaxContainersPerAccount > 0 &&
			count >= cc.Deps.Cfg.MaxContainersPerAccount {
			return proxyerr.Validation(http.StatusForbidden, "too many containers for account")
		}
		return nil
	}
	if !cc.Deps.Cfg.AccountAutocreate {
		return proxyerr.New(proxyerr.KindLookupMiss, http.StatusNotFound, "account does not exist")
	}

	partition, it, replicas := cc.Deps.candidates(account, "", "", nil)
	req := replication.FanoutRequest{
		Method:       http.MethodPut,
		PathFor:      pathForBuilder(partition, account, "", ""),
		Headers:      http.Header{"X-Timestamp": []string{NewTimestamp(time.Now())}},
		ReplicaCount: replicas,
	}
	result, err := cc.Deps.Dispatcher.WriteNoBody(c.Request.Context(), it, req)
	if err != nil {
		return err
	}
	cc.Deps.Cache.Delete(account)
	if result.Status < 200 || result.Status >= 300 {
		// decideWriteOutcome returns a nil error for any resolved modal
		// status, 2xx or not — a denied autocreate (403/409) must not be
		// treated as success (spec.md §4.6.2/§8 scenario 6).
		return proxyerr.New(proxyerr.KindLookupMiss, result.Status, "account autocreate denied")
	}
	return nil
}

func (cc *ContainerController) handlePut(c *gin.Context) {
	account, container := c.Param("account"), c.Param("container")
	if r := cc.authorize(c, account); r != nil {
		writeAuthResult(c, r)
		return
	}
	if err := ValidateMetadata(c.Request.Header, cc.Deps.Cfg); err != nil {
		writeProxyErr(c, err)
		return
	}

	headers := cloneHeaders(c.Request.Header)
	for _, aclHeader := range []string{"X-Container-Read", "X-Container-Write"} {
		if v := headers.Get(aclHeader); v != "" {
			cleaned, err := CleanACL(v)
			if err != nil {
				writeProxyErr(c, err)
				return
			}
			headers.Set(aclHeader, cleaned)
		}
	}
	headers.Set("X-Timestamp", NewTimestamp(time.Now()))

	// Serialize concurrent creates of the same container across proxies
	// (spec.md §4.6.2).
	unlock, _ := cc.Deps.Cache.SoftLock(account+"/"+container, 2*time.Second, 3)
	defer unlock()

	if err := cc.ensureAccount(c, account); err != nil {
		writeProxyErr(c, err)
		return
	}

	partition, it, replicas := cc.Deps.candidates(account, container, "", handoffCounter(c))
	req := replication.FanoutRequest{
		Method:       http.MethodPut,
		PathFor:      pathForBuilder(partition, account, container, ""),
		Headers:      headers,
		ReplicaCount: replicas,
	}
	result, err := cc.Deps.Dispatcher.WriteNoBody(c.Request.Context(), it, req)
	if err != nil {
		writeProxyErr(c, err)
		return
	}
	cc.Deps.Cache.Delete(account + "/" + container)
	writeBackendResult(c, result)
}

func (cc *ContainerController) handlePost(c *gin.Context) {
	account, container := c.Param("account"), c.Param("container")
	if r := cc.authorize(c, account); r != nil {
		writeAuthResult(c, r)
		return
	}
	if err := ValidateMetadata(c.Request.Header, cc.Deps.Cfg); err != nil {
		writeProxyErr(c, err)
		return
	}

	headers := cloneHeaders(c.Request.Header)
	headers.Set("X-Timestamp", NewTimestamp(time.Now()))

	partition, it, replicas := cc.Deps.candidates(account, container, "", handoffCounter(c))
	req := replication.FanoutRequest{
		Method:       http.MethodPost,
		PathFor:      pathForBuilder(partition, account, container, ""),
		Headers:      headers,
		ReplicaCount: replicas,
	}
	result, err := cc.Deps.Dispatcher.WriteNoBody(c.Request.Context(), it, req)
	if err != nil {
		writeProxyErr(c, err)
		return
	}
	cc.Deps.Cache.Delete(account + "/" + container)
	writeBackendResult(c, result)
}

func (cc *ContainerController) handleDelete(c *gin.Context) {
	account, container := c.Param("account"), c.Param("container")
	if r := cc.authorize(c, account); r != nil {
		writeAuthResult(c, r)
		return
	}

	partition, it, replicas := cc.Deps.candidates(account, container, "", handoffCounter(c))
	req := replication.FanoutRequest{
		Method:       http.MethodDelete,
		PathFor:      pathForBuilder(partition, account, container, ""),
		Headers:      http.Header{"X-Timestamp": []string{NewTimestamp(time.Now())}},
		ReplicaCount: replicas,
	}
	// DELETE only succeeds if empty — backends return 409 otherwise
	// (spec.md §4.6.2); the proxy just forwards that status.
	result, err := cc.Deps.Dispatcher.WriteNoBody(c.Request.Context(), it, req)
	if err != nil {
		writeProxyErr(c, err)
		return
	}
	cc.Deps.Cache.Delete(account + "/" + container)
	writeBackendResult(c, result)
}
