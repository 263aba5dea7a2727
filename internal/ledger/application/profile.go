package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

// RegisterCommand 注册参数
type RegisterCommand struct {
	Username   string        `json:"username"`
	Plan       domain.PlanID `json:"plan_id"`
	ReferredBy string        `json:"referred_by"`
}

// SubmitInvestmentCommand 提交投资凭证
type SubmitInvestmentCommand struct {
	AccountID string        `json:"account_id"`
	Plan      domain.PlanID `json:"plan_id"`
	ProofRef  string        `json:"proof_ref"`
}

// ProfileService 账户生命周期：注册、提交投资、收款方式、删除
type ProfileService struct {
	*Runtime
}

// NewProfileService 创建账户服务
func NewProfileService(rt *Runtime) *ProfileService {
	return &ProfileService{Runtime: rt}
}

// Register 注册账户；推荐人必须存在
func (s *ProfileService) Register(ctx context.Context, cmd RegisterCommand) (*domain.Profile, error) {
	p, err := domain.NewProfile(s.opts.NewID("ACC"), cmd.Username, cmd.Plan, cmd.ReferredBy, s.now())
	if err != nil {
		return nil, err
	}

	if p.ReferredBy != "" {
		err := s.step(ctx, "profile.get_referrer", func(ctx context.Context) error {
			_, err := s.store.Profiles.Get(ctx, p.ReferredBy)
			return err
		})
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.ValidationError{Field: "referred_by", Reason: "referrer does not exist", Err: err}
		}
		if err != nil {
			return nil, fmt.Errorf("load referrer: %w", err)
		}
	}

	err = s.step(ctx, "profile.create", func(ctx context.Context) error {
		return s.store.Tx.Transaction(ctx, func(txCtx context.Context) error {
			if err := s.store.Profiles.Create(txCtx, p); err != nil {
				return err
			}
			return s.emit(txCtx, domain.EventProfileRegistered, p.ID, "", p.Balance)
		})
	})
	if errors.Is(err, domain.ErrDuplicate) {
		return nil, &domain.ValidationError{Field: "username", Reason: "username is already taken", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	s.logger.InfoContext(ctx, "profile registered", "account_id", p.ID, "plan_id", p.Plan, "status", p.Status)
	return p, nil
}

// GetProfile 查询账户
func (s *ProfileService) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	var p *domain.Profile
	err := s.step(ctx, "profile.get", func(ctx context.Context) (err error) {
		p, err = s.store.Profiles.Get(ctx, id)
		return err
	})
	return p, err
}

// SubmitInvestment 登记待审核投资，金额取自套餐表；账户未激活时进入待审核
func (s *ProfileService) SubmitInvestment(ctx context.Context, cmd SubmitInvestmentCommand) (*domain.Investment, error) {
	profile, err := s.GetProfile(ctx, cmd.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", cmd.AccountID, err)
	}
	inv, err := domain.NewInvestment(s.opts.NewID("INV"), profile.ID, cmd.Plan, cmd.ProofRef, s.now())
	if err != nil {
		return nil, err
	}
	next, err := profile.Status.Next(ctx, domain.ProfileEventSubmitInvestment)
	if err != nil {
		return nil, domain.NewPolicyViolation("an investment is already awaiting approval", err)
	}

	err = s.step(ctx, "investment.submit", func(ctx context.Context) error {
		return s.store.Tx.Transaction(ctx, func(txCtx context.Context) error {
			if next != profile.Status {
				if err := s.store.Profiles.SetStatus(txCtx, profile.ID, []domain.ProfileStatus{profile.Status}, next); err != nil {
					return err
				}
			}
			if err := s.store.Investments.Create(txCtx, inv); err != nil {
				return err
			}
			return s.emit(txCtx, domain.EventInvestmentSubmitted, inv.AccountID, inv.ID, inv.Amount)
		})
	})
	if errors.Is(err, domain.ErrStaleState) {
		return nil, domain.NewPolicyViolation("profile status changed concurrently", err)
	}
	if err != nil {
		return nil, fmt.Errorf("submit investment: %w", err)
	}

	s.logger.InfoContext(ctx, "investment submitted", "investment_id", inv.ID, "account_id", inv.AccountID, "amount", inv.Amount.String())
	return inv, nil
}

// UpsertWithdrawalMethod 保存收款方式，每个账户一条
func (s *ProfileService) UpsertWithdrawalMethod(ctx context.Context, m *domain.WithdrawalMethod) (*domain.WithdrawalMethod, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.GetProfile(ctx, m.AccountID); err != nil {
		return nil, fmt.Errorf("load profile %s: %w", m.AccountID, err)
	}
	if m.ID == "" {
		m.ID = s.opts.NewID("WMD")
	}
	m.UpdatedAt = s.now()
	if err := s.step(ctx, "method.upsert", func(ctx context.Context) error {
		return s.store.Methods.Upsert(ctx, m)
	}); err != nil {
		return nil, fmt.Errorf("save withdrawal method: %w", err)
	}
	return s.getMethod(ctx, m.AccountID)
}

func (s *ProfileService) getMethod(ctx context.Context, accountID string) (*domain.WithdrawalMethod, error) {
	var m *domain.WithdrawalMethod
	err := s.step(ctx, "method.get", func(ctx context.Context) (err error) {
		m, err = s.store.Methods.GetByAccount(ctx, accountID)
		return err
	})
	return m, err
}

// DeleteProfile 删除账户及其从属记录；被其推荐的账户保留但清除推荐人
func (s *ProfileService) DeleteProfile(ctx context.Context, id string) error {
	if _, err := s.GetProfile(ctx, id); err != nil {
		return err
	}
	err := s.step(ctx, "profile.delete", func(ctx context.Context) error {
		return s.store.Tx.Transaction(ctx, func(txCtx context.Context) error {
			if err := s.store.Investments.DeleteByAccount(txCtx, id); err != nil {
				return err
			}
			if err := s.store.Withdrawals.DeleteByAccount(txCtx, id); err != nil {
				return err
			}
			if err := s.store.Methods.DeleteByAccount(txCtx, id); err != nil {
				return err
			}
			if err := s.store.Earnings.DeleteByAccount(txCtx, id); err != nil {
				return err
			}
			if err := s.store.Referrals.DeleteByReferred(txCtx, id); err != nil {
				return err
			}
			if _, err := s.store.Profiles.ClearReferrer(txCtx, id); err != nil {
				return err
			}
			if err := s.store.Profiles.Delete(txCtx, id); err != nil {
				return err
			}
			return s.emit(txCtx, domain.EventProfileDeleted, id, "", decimal.Zero)
		})
	})
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "profile deleted", "account_id", id)
	return nil
}
