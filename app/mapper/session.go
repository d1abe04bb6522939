package mapper

import (
	"time"

	"github.com/academiaparchada/ms-go-reconciler/app/entity"
	"github.com/academiaparchada/ms-go-reconciler/app/outcome"
	"github.com/academiaparchada/ms-go-reconciler/app/types"
)

func StateToResponse(state outcome.DisplayState) *types.SessionStateResponse {
	resp := &types.SessionStateResponse{
		Page:         state.Page,
		Phase:        state.Phase,
		Message:      state.Message,
		Status:       StatusToResponse(state.Status),
		RetryPath:    state.RetryPath,
		AttemptsUsed: state.AttemptsUsed,
		AutoChecksUp: state.AutoChecksUp,
	}
	if state.Redirect != nil {
		resp.Redirect = &types.RedirectResponse{
			Path:    state.Redirect.Path,
			Replace: state.Redirect.Replace,
		}
	}
	return resp
}

func StatusToResponse(status *entity.PurchaseStatus) *types.PurchaseStatusResponse {
	if status == nil {
		return nil
	}

	resp := &types.PurchaseStatusResponse{
		ID:              status.ID,
		PaymentState:    status.PaymentState,
		PaymentProvider: status.PaymentProvider,
		PurchaseKind:    status.PurchaseKind,
		ProviderDetail:  status.ProviderDetail,
	}
	if status.PaymentProvider != "" {
		resp.ProviderDisplayName = entity.ProviderDisplayName(status.PaymentProvider)
	}
	if status.AmountKnown {
		amount := status.TotalAmount
		resp.TotalAmount = &amount
	}
	return resp
}

func EventsToResponse(events []*entity.ReconcileEvent) []*types.ReconcileEventResponse {
	items := make([]*types.ReconcileEventResponse, 0, len(events))
	for _, event := range events {
		items = append(items, &types.ReconcileEventResponse{
			ID:         event.ID,
			PurchaseID: event.PurchaseID,
			EventType:  event.EventType,
			OldState:   event.OldState,
			NewState:   event.NewState,
			Attempt:    event.Attempt,
			CreatedAt:  event.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items
}
