// Package http 账本的 REST 接口：用户侧账户、投资、提现与管理员审批、任务触发
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/investledger/internal/ledger/application"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/middleware"
	"github.com/wyfcoding/investledger/pkg/ratelimit"
)

// Services 处理器依赖的应用服务
type Services struct {
	Profiles    *application.ProfileService
	Approvals   *application.ApprovalService
	Referrals   *application.ReferralEngine
	Withdrawals *application.WithdrawalService
	Accrual     *application.AccrualJob
	Recovery    *application.RecoveryService
	Query       *application.QueryService
}

// LedgerHandler HTTP 处理器
type LedgerHandler struct {
	svc Services
	// 计息日时区
	location *time.Location
	now      func() time.Time

	limiter ratelimit.RateLimiter
	// 未配置的场景不限流
	limits map[ratelimit.Scope]ratelimit.Limit
}

// NewLedgerHandler 创建 HTTP 处理器；limiter 为 nil 时写接口不限流
func NewLedgerHandler(svc Services, location *time.Location, limiter ratelimit.RateLimiter, limits map[ratelimit.Scope]ratelimit.Limit) *LedgerHandler {
	if location == nil {
		location = time.UTC
	}
	return &LedgerHandler{
		svc:      svc,
		location: location,
		now:      time.Now,
		limiter:  limiter,
		limits:   limits,
	}
}

// rateLimit 按路径中的账户 ID 限流
func (h *LedgerHandler) rateLimit(scope ratelimit.Scope) gin.HandlerFunc {
	return middleware.RateLimit(h.limiter, scope, h.limits[scope], middleware.ByParam("id"))
}

// RegisterRoutes 注册路由
func (h *LedgerHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/plans", h.ListPlans)
		api.POST("/profiles", h.Register)
		api.GET("/profiles/:id", h.GetProfile)
		api.POST("/profiles/:id/investments", h.rateLimit(ratelimit.ScopeInvest), h.SubmitInvestment)
		api.GET("/profiles/:id/investments", h.ListInvestments)
		api.PUT("/profiles/:id/withdrawal-method", h.UpsertWithdrawalMethod)
		api.POST("/profiles/:id/withdrawals",
			h.rateLimit(ratelimit.ScopeWithdraw),
			h.RequestWithdrawal)
		api.GET("/profiles/:id/withdrawals", h.ListWithdrawals)
		api.GET("/profiles/:id/earnings", h.ListEarnings)
		api.GET("/profiles/:id/referrals", h.ListReferrals)
	}

	admin := api.Group("/admin")
	{
		admin.GET("/profiles", h.ListProfiles)
		admin.DELETE("/profiles/:id", h.DeleteProfile)
		admin.GET("/investments/pending", h.ListPendingInvestments)
		admin.POST("/investments/:id/decision", h.DecideInvestment)
		admin.GET("/withdrawals/pending", h.ListPendingWithdrawals)
		admin.POST("/withdrawals/:id/decision", h.ResolveWithdrawal)
		admin.POST("/referrals", h.GrantReferral)
		admin.POST("/jobs/accrual", h.RunAccrual)
		admin.POST("/jobs/recovery", h.RunRecovery)
		admin.GET("/sagas/:gid", h.GetSaga)
	}
}

// ListPlans 套餐表
func (h *LedgerHandler) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": h.svc.Query.Plans()})
}

// Register 注册账户
func (h *LedgerHandler) Register(c *gin.Context) {
	var req application.RegisterCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	p, err := h.svc.Profiles.Register(c.Request.Context(), req)
	if err != nil {
		writeError(c, "failed to register profile", err, "username", req.Username)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GetProfile 获取账户
func (h *LedgerHandler) GetProfile(c *gin.Context) {
	id := c.Param("id")
	p, err := h.svc.Profiles.GetProfile(c.Request.Context(), id)
	if err != nil {
		writeError(c, "failed to get profile", err, "account_id", id)
		return
	}
	c.JSON(http.StatusOK, p)
}

// SubmitInvestmentRequest 金额由套餐决定，不接受客户端传入
type SubmitInvestmentRequest struct {
	Plan     domain.PlanID `json:"plan_id"`
	ProofRef string        `json:"proof_ref" binding:"required"`
}

// SubmitInvestment 提交投资凭证
func (h *LedgerHandler) SubmitInvestment(c *gin.Context) {
	id := c.Param("id")
	var req SubmitInvestmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	inv, err := h.svc.Profiles.SubmitInvestment(c.Request.Context(), application.SubmitInvestmentCommand{
		AccountID: id,
		Plan:      req.Plan,
		ProofRef:  req.ProofRef,
	})
	if err != nil {
		writeError(c, "failed to submit investment", err, "account_id", id)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

// ListInvestments 账户的投资记录
func (h *LedgerHandler) ListInvestments(c *gin.Context) {
	id := c.Param("id")
	list, err := h.svc.Query.ListInvestments(c.Request.Context(), id)
	if err != nil {
		writeError(c, "failed to list investments", err, "account_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

// WithdrawalMethodRequest 收款方式
type WithdrawalMethodRequest struct {
	Method        string `json:"method" binding:"required"`
	HolderName    string `json:"holder_name" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
}

// UpsertWithdrawalMethod 保存收款方式
func (h *LedgerHandler) UpsertWithdrawalMethod(c *gin.Context) {
	id := c.Param("id")
	var req WithdrawalMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	m, err := h.svc.Profiles.UpsertWithdrawalMethod(c.Request.Context(), &domain.WithdrawalMethod{
		AccountID:     id,
		Method:        req.Method,
		HolderName:    req.HolderName,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		writeError(c, "failed to save withdrawal method", err, "account_id", id)
		return
	}
	c.JSON(http.StatusOK, m)
}

// WithdrawalRequest 提现请求，金额为十进制字符串
type WithdrawalRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// RequestWithdrawal 申请提现，成功即表示资金已预留
func (h *LedgerHandler) RequestWithdrawal(c *gin.Context) {
	id := c.Param("id")
	var req WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		badRequest(c, "invalid amount")
		return
	}

	w, err := h.svc.Withdrawals.Request(c.Request.Context(), id, amount)
	if err != nil {
		writeError(c, "failed to request withdrawal", err, "account_id", id, "amount", req.Amount)
		return
	}
	c.JSON(http.StatusAccepted, w)
}

// ListWithdrawals 账户提现记录，新的在前
func (h *LedgerHandler) ListWithdrawals(c *gin.Context) {
	id := c.Param("id")
	limit, offset := pageParams(c)
	page, err := h.svc.Query.ListWithdrawals(c.Request.Context(), id, limit, offset)
	if err != nil {
		writeError(c, "failed to list withdrawals", err, "account_id", id)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListEarnings 收益流水
func (h *LedgerHandler) ListEarnings(c *gin.Context) {
	id := c.Param("id")
	limit, offset := pageParams(c)
	page, err := h.svc.Query.ListEarnings(c.Request.Context(), id, limit, offset)
	if err != nil {
		writeError(c, "failed to list earnings", err, "account_id", id)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListReferrals 该账户作为推荐人获得的奖励
func (h *LedgerHandler) ListReferrals(c *gin.Context) {
	id := c.Param("id")
	limit, offset := pageParams(c)
	page, err := h.svc.Query.ListReferrals(c.Request.Context(), id, limit, offset)
	if err != nil {
		writeError(c, "failed to list referrals", err, "account_id", id)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListProfiles 管理员查看全部账户
func (h *LedgerHandler) ListProfiles(c *gin.Context) {
	limit, offset := pageParams(c)
	page, err := h.svc.Query.ListProfiles(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, "failed to list profiles", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// DeleteProfile 删除账户
func (h *LedgerHandler) DeleteProfile(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Profiles.DeleteProfile(c.Request.Context(), id); err != nil {
		writeError(c, "failed to delete profile", err, "account_id", id)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListPendingInvestments 待审核投资，先提交的在前
func (h *LedgerHandler) ListPendingInvestments(c *gin.Context) {
	limit, offset := pageParams(c)
	page, err := h.svc.Query.ListPendingInvestments(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, "failed to list pending investments", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// DecisionRequest approve 或 reject
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
}

// DecideInvestment 审批投资
func (h *LedgerHandler) DecideInvestment(c *gin.Context) {
	id := c.Param("id")
	decision, ok := bindDecision(c)
	if !ok {
		return
	}

	res, err := h.svc.Approvals.Decide(c.Request.Context(), id, decision)
	if err != nil {
		writeError(c, "failed to decide investment", err, "investment_id", id, "decision", string(decision))
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListPendingWithdrawals 处理中的提现
func (h *LedgerHandler) ListPendingWithdrawals(c *gin.Context) {
	limit, offset := pageParams(c)
	page, err := h.svc.Query.ListPendingWithdrawals(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, "failed to list pending withdrawals", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ResolveWithdrawal 批准打款或拒绝退回
func (h *LedgerHandler) ResolveWithdrawal(c *gin.Context) {
	id := c.Param("id")
	decision, ok := bindDecision(c)
	if !ok {
		return
	}

	w, err := h.svc.Withdrawals.Resolve(c.Request.Context(), id, decision)
	if err != nil {
		writeError(c, "failed to resolve withdrawal", err, "withdrawal_id", id, "decision", string(decision))
		return
	}
	c.JSON(http.StatusOK, w)
}

// GrantReferralRequest 人工补发推荐奖励
type GrantReferralRequest struct {
	ReferrerID string `json:"referrer_id" binding:"required"`
	ReferredID string `json:"referred_id" binding:"required"`
}

// GrantReferral 推荐奖励失败后的人工补发，重复调用不会重复入账
func (h *LedgerHandler) GrantReferral(c *gin.Context) {
	var req GrantReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	granted, err := h.svc.Referrals.Grant(c.Request.Context(), req.ReferrerID, req.ReferredID)
	if err != nil {
		writeError(c, "failed to grant referral", err, "referrer_id", req.ReferrerID, "referred_id", req.ReferredID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": granted})
}

// RunAccrual 手动触发每日收益，date 缺省为计息时区的今天
func (h *LedgerHandler) RunAccrual(c *gin.Context) {
	date := domain.NewAccrualDate(h.now(), h.location)
	if raw := c.Query("date"); raw != "" {
		parsed, err := domain.ParseAccrualDate(raw)
		if err != nil {
			writeError(c, "invalid accrual date", err)
			return
		}
		date = parsed
	}

	res, err := h.svc.Accrual.Run(c.Request.Context(), date)
	if err != nil {
		writeError(c, "accrual run failed", err, "date", string(date))
		return
	}
	c.JSON(http.StatusOK, res)
}

// RunRecovery 手动触发一次 Saga 恢复扫描
func (h *LedgerHandler) RunRecovery(c *gin.Context) {
	res, err := h.svc.Recovery.Run(c.Request.Context())
	if err != nil {
		writeError(c, "recovery run failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetSaga 查看工作流状态
func (h *LedgerHandler) GetSaga(c *gin.Context) {
	gid := c.Param("gid")
	saga, err := h.svc.Query.GetSaga(c.Request.Context(), gid)
	if err != nil {
		writeError(c, "failed to get saga", err, "gid", gid)
		return
	}
	c.JSON(http.StatusOK, saga)
}

func bindDecision(c *gin.Context) (domain.Decision, bool) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return "", false
	}
	decision, err := domain.ParseDecision(req.Decision)
	if err != nil {
		writeError(c, "invalid decision", err)
		return "", false
	}
	return decision, true
}

// pageParams 非法值交给应用层归一化
func pageParams(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return limit, offset
}
