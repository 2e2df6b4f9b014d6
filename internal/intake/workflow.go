package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"asset-intake/internal/domain/asset"
	"asset-intake/internal/vin"
)

var (
	ErrInvalidAction  = errors.New("invalid action")
	ErrWorkflowClosed = errors.New("workflow closed")
)

type State string

const (
	StateDuplicate      State = "duplicate"
	StateTrespassPrompt State = "trespass_prompt"
	StateWarningMethod  State = "warning_method"
	StateClosed         State = "closed"
)

type Action string

const (
	ActionUpdateAsset Action = "update_asset"
	ActionDiscard     Action = "discard"
	ActionTrespassYes Action = "trespass_yes"
	ActionTrespassNo  Action = "trespass_no"
	ActionWarnVerbal  Action = "warn_verbal"
	ActionWarnWritten Action = "warn_written"
	ActionWarnNone    Action = "warn_none"
	// ActionCancel closes the run from any open state without committing.
	ActionCancel Action = "cancel"

	eventRematch = "rematch"
)

// actionOrder is the order renderers present choices in.
var actionOrder = []Action{
	ActionUpdateAsset,
	ActionDiscard,
	ActionTrespassYes,
	ActionTrespassNo,
	ActionWarnVerbal,
	ActionWarnWritten,
	ActionWarnNone,
	ActionCancel,
}

var commitWarnings = map[Action]asset.WarningType{
	ActionTrespassNo:  asset.WarningNone,
	ActionWarnVerbal:  asset.WarningVerbal,
	ActionWarnWritten: asset.WarningWritten,
	ActionWarnNone:    asset.WarningNone,
}

// CommitFunc persists the records of a finished run. An error leaves the
// workflow in its current state.
type CommitFunc func(ctx context.Context, req CommitRequest) (asset.AssetRecord, asset.InteractionRecord, error)

type Committed struct {
	Asset       asset.AssetRecord
	Interaction asset.InteractionRecord
}

// Workflow walks one dequeued capture through operator confirmation.
type Workflow struct {
	fsm      *fsm.FSM
	capture  asset.PendingCapture
	existing *asset.AssetRecord
	commit   CommitFunc
	result   *Committed
}

// NewWorkflow starts in the duplicate state when existing is set and in the
// trespass prompt otherwise.
func NewWorkflow(capture asset.PendingCapture, existing *asset.AssetRecord, commit CommitFunc) *Workflow {
	w := &Workflow{
		capture:  capture,
		existing: existing,
		commit:   commit,
	}

	initial := StateTrespassPrompt
	if existing != nil {
		initial = StateDuplicate
	}

	open := []string{string(StateDuplicate), string(StateTrespassPrompt), string(StateWarningMethod)}
	events := fsm.Events{
		{Name: string(ActionUpdateAsset), Src: []string{string(StateDuplicate)}, Dst: string(StateTrespassPrompt)},
		{Name: string(ActionDiscard), Src: []string{string(StateDuplicate)}, Dst: string(StateClosed)},
		{Name: string(ActionTrespassYes), Src: []string{string(StateTrespassPrompt)}, Dst: string(StateWarningMethod)},
		{Name: string(ActionTrespassNo), Src: []string{string(StateTrespassPrompt)}, Dst: string(StateClosed)},
		{Name: string(ActionWarnVerbal), Src: []string{string(StateWarningMethod)}, Dst: string(StateClosed)},
		{Name: string(ActionWarnWritten), Src: []string{string(StateWarningMethod)}, Dst: string(StateClosed)},
		{Name: string(ActionWarnNone), Src: []string{string(StateWarningMethod)}, Dst: string(StateClosed)},
		{Name: string(ActionCancel), Src: open, Dst: string(StateClosed)},
		{Name: eventRematch, Src: []string{string(StateTrespassPrompt)}, Dst: string(StateDuplicate)},
	}

	callbacks := fsm.Callbacks{
		"before_" + eventRematch: guard(w.guardRematch),
	}
	for action := range commitWarnings {
		callbacks["before_"+string(action)] = guard(w.guardCommit)
	}

	w.fsm = fsm.NewFSM(string(initial), events, callbacks)
	return w
}

func (w *Workflow) State() State {
	return State(w.fsm.Current())
}

func (w *Workflow) Closed() bool {
	return w.fsm.Is(string(StateClosed))
}

// Actions lists the operator choices available in the current state.
func (w *Workflow) Actions() []Action {
	var actions []Action
	for _, a := range actionOrder {
		if w.fsm.Can(string(a)) {
			actions = append(actions, a)
		}
	}
	return actions
}

func (w *Workflow) CaptureID() uuid.UUID {
	return w.capture.ID
}

func (w *Workflow) Capture() asset.PendingCapture {
	return w.capture
}

func (w *Workflow) Existing() *asset.AssetRecord {
	return w.existing
}

// Result is set once a commit has succeeded.
func (w *Workflow) Result() *Committed {
	return w.result
}

// Fire applies an operator action. operator is recorded on the interaction
// when the action commits.
func (w *Workflow) Fire(ctx context.Context, action Action, operator string) error {
	if action == eventRematch {
		return fmt.Errorf("%w: %s", ErrInvalidAction, action)
	}
	return w.event(ctx, string(action), operator)
}

// SetVIN replaces the VIN of the capture under review, e.g. after the
// operator applied a correction.
func (w *Workflow) SetVIN(v string, report *vin.Reasoning) error {
	if w.Closed() {
		return ErrWorkflowClosed
	}
	w.capture.Recognition.VIN = v
	w.capture.VINReport = report
	return nil
}

// Rematch moves a run that had no duplicate into the duplicate state.
func (w *Workflow) Rematch(ctx context.Context, existing asset.AssetRecord) error {
	return w.event(ctx, eventRematch, existing)
}

func (w *Workflow) event(ctx context.Context, name string, args ...interface{}) error {
	err := w.fsm.Event(ctx, name, args...)
	if err == nil {
		return nil
	}

	var (
		canceled fsm.CanceledError
		invalid  fsm.InvalidEventError
		unknown  fsm.UnknownEventError
	)
	switch {
	case errors.As(err, &canceled) && canceled.Err != nil:
		return canceled.Err
	case errors.As(err, &invalid):
		return fmt.Errorf("%w: %s not allowed in state %s", ErrInvalidAction, name, invalid.State)
	case errors.As(err, &unknown):
		return fmt.Errorf("%w: %s", ErrInvalidAction, name)
	}
	return err
}

func (w *Workflow) guardCommit(ctx context.Context, e *fsm.Event) error {
	operator, _ := argAt[string](e.Args, 0)
	req := CommitRequest{
		Recognition: w.capture.Recognition,
		Photos:      w.capture.Photos,
		Warning:     commitWarnings[Action(e.Event)],
		Location:    w.capture.Location,
		Operator:    operator,
	}
	if w.existing != nil {
		id := w.existing.ID
		req.ExistingID = &id
	}

	record, interaction, err := w.commit(ctx, req)
	if err != nil {
		return err
	}
	w.result = &Committed{Asset: record, Interaction: interaction}
	return nil
}

func (w *Workflow) guardRematch(_ context.Context, e *fsm.Event) error {
	if w.existing != nil {
		return fmt.Errorf("%w: run already carries a duplicate", ErrInvalidAction)
	}
	existing, ok := argAt[asset.AssetRecord](e.Args, 0)
	if !ok {
		return fmt.Errorf("%w: rematch needs a record", ErrInvalidAction)
	}
	w.existing = &existing
	return nil
}

// guard turns an error-returning check into a before_ callback that cancels
// the transition on failure.
func guard(fn func(ctx context.Context, e *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, e *fsm.Event) {
		if err := fn(ctx, e); err != nil {
			e.Cancel(err)
		}
	}
}

func argAt[T any](args []interface{}, i int) (T, bool) {
	var zero T
	if i >= len(args) {
		return zero, false
	}
	v, ok := args[i].(T)
	return v, ok
}
