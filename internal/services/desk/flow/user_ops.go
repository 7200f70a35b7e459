package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/louisbranch/bankdesk/internal/services/desk/domain"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// OnUserSelectsBankAction validates a candidate (bank, action) choice and
// returns its age gate. Nothing is persisted; declining the confirmation
// prompt simply never creates an order.
func (e *Engine) OnUserSelectsBankAction(ctx context.Context, bankName string, action storage.Action) (Selection, error) {
	return retryBusy(func() (Selection, error) {
		return e.userSelectsBankAction(ctx, bankName, action)
	})
}

func (e *Engine) userSelectsBankAction(ctx context.Context, bankName string, action storage.Action) (Selection, error) {
	snapshot, err := e.cache.Snapshot(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("load instruction snapshot: %w", err)
	}
	if len(snapshot.Steps(bankName, action)) == 0 {
		return Selection{}, ErrBankUnavailable
	}

	minAge, gated, err := e.cache.MinimumAge(ctx, bankName, action)
	if err != nil {
		return Selection{}, fmt.Errorf("find minimum age: %w", err)
	}
	return Selection{
		BankName: bankName,
		Action:   action,
		MinAge:   minAge,
		AgeGated: gated,
	}, nil
}

// OnAgeConfirmed creates the order at stage zero and admits it to an
// operator group or the wait queue. Callers must only invoke it after the
// user accepted the age gate; a declined prompt never reaches the engine.
func (e *Engine) OnAgeConfirmed(ctx context.Context, userID int64, displayName, bankName string, action storage.Action) (Start, error) {
	return retryBusy(func() (Start, error) {
		return e.ageConfirmed(ctx, userID, displayName, bankName, action)
	})
}

func (e *Engine) ageConfirmed(ctx context.Context, userID int64, displayName, bankName string, action storage.Action) (Start, error) {
	ctx, span := e.tracer().Start(ctx, "flow.order_create")
	defer span.End()

	steps, err := e.stepsFor(ctx, bankName, action)
	if err != nil {
		return Start{}, err
	}
	if len(steps) == 0 {
		return Start{}, ErrBankUnavailable
	}

	now := e.clock()
	order := storage.OrderRecord{
		UserID:      userID,
		DisplayName: strings.TrimSpace(displayName),
		BankName:    bankName,
		Action:      action,
		Stage:       0,
		Status:      storage.OrderStatusInProgress,
		CodeStatus:  storage.CodeStatusNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	orderID, err := e.store.CreateOrder(ctx, order)
	if err != nil {
		return Start{}, fmt.Errorf("create order: %w", err)
	}
	order.ID = orderID
	e.appendLog(ctx, orderID, actorUser(userID), "order_created",
		fmt.Sprintf(`{"bank":%q,"action":%q}`, bankName, action))

	assignment, err := e.allocator.AssignOrQueue(ctx, order)
	if err != nil {
		return Start{}, fmt.Errorf("admit order %d: %w", orderID, err)
	}
	if assignment.Assigned {
		order.GroupID = assignment.Group.ID
	} else {
		e.appendLog(ctx, orderID, actorSystem, "order_queued", "{}")
	}

	firstStep := steps[0]
	spanInt(span, "flow.order_id", int(orderID))
	return Start{
		Progress: Progress{Order: order, Step: &firstStep},
		Assigned: assignment.Assigned,
		Queued:   !assignment.Assigned,
		Group:    assignment.Group,
	}, nil
}

// OnArtifactSubmitted attaches one user screenshot to the order's current
// stage, pending operator review. The identical artifact submitted twice
// for the same stage is rejected.
func (e *Engine) OnArtifactSubmitted(ctx context.Context, orderID int64, fileID, fileUniqueID string) (Progress, error) {
	return retryBusy(func() (Progress, error) {
		return e.artifactSubmitted(ctx, orderID, fileID, fileUniqueID)
	})
}

func (e *Engine) artifactSubmitted(ctx context.Context, orderID int64, fileID, fileUniqueID string) (Progress, error) {
	release := e.locks.acquire(orderID)
	defer release()

	order, err := e.loadOpenOrder(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}
	steps, err := e.steps(ctx, order)
	if err != nil {
		return Progress{}, err
	}
	step := currentStep(steps, order.Stage)
	if step == nil {
		return Progress{}, ErrWrongStep
	}
	if !acceptsArtifacts(*step) {
		return Progress{}, ErrWrongStep
	}

	replaces, err := e.latestRejectedPhoto(ctx, orderID, order.Stage)
	if err != nil {
		return Progress{}, err
	}

	now := e.clock()
	_, err = e.store.AddPhoto(ctx, storage.PhotoRecord{
		OrderID:         orderID,
		Stage:           order.Stage,
		FileID:          fileID,
		FileUniqueID:    fileUniqueID,
		Confirmation:    storage.PhotoPending,
		Active:          true,
		ReplacesPhotoID: replaces,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		if err == storage.ErrConflict {
			return Progress{}, ErrDuplicateArtifact
		}
		return Progress{}, fmt.Errorf("attach artifact to order %d: %w", orderID, err)
	}
	e.appendLog(ctx, orderID, actorUser(order.UserID), "artifact_submitted",
		fmt.Sprintf(`{"stage":%d}`, order.Stage))

	return Progress{Order: order, Step: step}, nil
}

// latestRejectedPhoto finds the newest voided artifact of a stage so a fresh
// capture can carry the back-reference. Zero means the capture replaces
// nothing.
func (e *Engine) latestRejectedPhoto(ctx context.Context, orderID int64, stage int) (int64, error) {
	photos, err := e.store.ListStagePhotos(ctx, orderID, stage)
	if err != nil {
		return 0, fmt.Errorf("list stage photos for order %d: %w", orderID, err)
	}
	var latest int64
	for _, photo := range photos {
		if !photo.Active && photo.Confirmation == storage.PhotoRejected && photo.ID > latest {
			latest = photo.ID
		}
	}
	return latest, nil
}

// OnUserDataSubmitted validates the current data-request step's fields,
// normalizes phone and email values, and advances the stage. When the pair
// was already consumed for this bank, progression halts until an operator
// decides through OnReuseDecision; nothing is persisted in the meantime.
func (e *Engine) OnUserDataSubmitted(ctx context.Context, orderID int64, values map[string]string) (Progress, error) {
	return retryBusy(func() (Progress, error) {
		return e.userDataSubmitted(ctx, orderID, values)
	})
}

func (e *Engine) userDataSubmitted(ctx context.Context, orderID int64, values map[string]string) (Progress, error) {
	release := e.locks.acquire(orderID)
	defer release()

	order, err := e.loadOpenOrder(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}
	steps, err := e.steps(ctx, order)
	if err != nil {
		return Progress{}, err
	}
	step := currentStep(steps, order.Stage)
	if step == nil {
		return Progress{}, ErrWrongStep
	}
	payload, ok := step.Payload.(domain.DataRequestPayload)
	if !ok {
		return Progress{}, ErrWrongStep
	}

	phone, email, err := validateDataFields(payload, values)
	if err != nil {
		return Progress{}, err
	}

	reuse, err := e.guard.Check(ctx, order.BankName, phone, email)
	if err != nil {
		return Progress{}, fmt.Errorf("check data reuse: %w", err)
	}
	if reuse.Any() {
		e.setPendingReuse(orderID, pendingData{phone: phone, email: email})
		e.appendLog(ctx, orderID, actorSystem, "data_reuse_detected",
			fmt.Sprintf(`{"phone_seen":%t,"email_seen":%t}`, reuse.PhoneSeen, reuse.EmailSeen))
		return Progress{Order: order, Step: step}, ErrReuseConfirmationPending
	}

	return e.commitUserData(ctx, order, steps, phone, email)
}

// OnReuseDecision resolves a pending data-reuse gate. Accepting records the
// pair and advances the order; declining drops the pending values without
// persisting anything, leaving the stage unchanged.
func (e *Engine) OnReuseDecision(ctx context.Context, orderID int64, actor string, accepted bool) (Progress, error) {
	return retryBusy(func() (Progress, error) {
		return e.reuseDecision(ctx, orderID, actor, accepted)
	})
}

func (e *Engine) reuseDecision(ctx context.Context, orderID int64, actor string, accepted bool) (Progress, error) {
	release := e.locks.acquire(orderID)
	defer release()

	order, err := e.loadOpenOrder(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}
	steps, err := e.steps(ctx, order)
	if err != nil {
		return Progress{}, err
	}
	// Popped only after the loads succeed, so a retried call still finds
	// the pending values.
	pending, ok := e.popPendingReuse(orderID)
	if !ok {
		return Progress{}, ErrWrongStep
	}

	if !accepted {
		e.appendLog(ctx, orderID, actor, "data_reuse_declined", "{}")
		return Progress{Order: order, Step: currentStep(steps, order.Stage)}, nil
	}

	e.appendLog(ctx, orderID, actor, "data_reuse_accepted", "{}")
	return e.commitUserData(ctx, order, steps, pending.phone, pending.email)
}

// commitUserData records the validated pair, stores it on the order, and
// advances the stage. Callers hold the order lock.
func (e *Engine) commitUserData(ctx context.Context, order storage.OrderRecord, steps []domain.Step, phone, email string) (Progress, error) {
	if phone != "" || email != "" {
		if err := e.guard.Record(ctx, order.ID, order.BankName, phone, email); err != nil {
			return Progress{}, fmt.Errorf("record data usage: %w", err)
		}
	}
	if phone != "" {
		order.Phone = phone
	}
	if email != "" {
		order.Email = email
	}
	order.DataComplete = true
	e.appendLog(ctx, order.ID, actorUser(order.UserID), "data_submitted",
		fmt.Sprintf(`{"stage":%d}`, order.Stage))

	return e.advance(ctx, order, steps, actorUser(order.UserID))
}

// OnRequisitesSubmitted checks the terminal payout-requisites step and
// completes the flow when every named requisite is present.
func (e *Engine) OnRequisitesSubmitted(ctx context.Context, orderID int64, values map[string]string) (Progress, error) {
	return retryBusy(func() (Progress, error) {
		return e.requisitesSubmitted(ctx, orderID, values)
	})
}

func (e *Engine) requisitesSubmitted(ctx context.Context, orderID int64, values map[string]string) (Progress, error) {
	release := e.locks.acquire(orderID)
	defer release()

	order, err := e.loadOpenOrder(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}
	steps, err := e.steps(ctx, order)
	if err != nil {
		return Progress{}, err
	}
	step := currentStep(steps, order.Stage)
	if step == nil {
		return Progress{}, ErrWrongStep
	}
	payload, ok := step.Payload.(domain.RequisitesPayload)
	if !ok {
		return Progress{}, ErrWrongStep
	}

	supplied := make(map[string]string, len(values))
	for key, value := range values {
		supplied[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	for _, name := range payload.Required {
		if supplied[strings.ToLower(name)] == "" {
			return Progress{}, fmt.Errorf("%w: %s", ErrMissingRequisite, name)
		}
	}

	raw, err := json.Marshal(supplied)
	if err != nil {
		return Progress{}, fmt.Errorf("encode requisites: %w", err)
	}
	e.appendLog(ctx, orderID, actorUser(order.UserID), "requisites_submitted", string(raw))

	return e.advance(ctx, order, steps, actorUser(order.UserID))
}

// validateDataFields checks required fields and normalizes phone and email
// values. Free-text fields only need to be non-empty.
func validateDataFields(payload domain.DataRequestPayload, values map[string]string) (phone string, email string, err error) {
	for _, field := range payload.Fields {
		value := strings.TrimSpace(values[field.Name])
		if value == "" {
			if field.Required {
				return "", "", fmt.Errorf("%w: %s", ErrMissingField, field.Name)
			}
			continue
		}
		switch field.Kind {
		case domain.FieldPhone:
			normalized, err := domain.NormalizePhone(value)
			if err != nil {
				return "", "", err
			}
			phone = normalized
		case domain.FieldEmail:
			normalized, err := domain.NormalizeEmail(value)
			if err != nil {
				return "", "", err
			}
			email = normalized
		}
	}
	return phone, email, nil
}

// acceptsArtifacts reports whether a step consumes screenshots. Unknown
// step kinds deliberately degrade to a single-screenshot step so a
// configuration mistake never stalls a flow.
func acceptsArtifacts(step domain.Step) bool {
	switch step.Payload.(type) {
	case domain.ScreenshotPayload, domain.UnknownPayload:
		return true
	}
	return false
}
