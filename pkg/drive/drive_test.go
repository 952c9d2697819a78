package drive

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/linebot/pkg/hw"
)

func newTestDrive(t *testing.T, g *Geometry) (*Drive, *hw.Recorder) {
	t.Helper()
	rec := hw.NewRecorder(0)
	d, err := New(context.Background(), rec, g)
	require.NoError(t, err)
	rec.Writes() // drop the initial polarity assertion
	return d, rec
}

func polarityWrites(ws []hw.Write) map[int]bool {
	out := make(map[int]bool)
	for _, w := range ws {
		if w.Polarity {
			out[w.Actuator] = w.High
		}
	}
	return out
}

func TestNew_AssertsIdentityPolarity(t *testing.T) {
	for _, g := range []*Geometry{Orthogonal, Diagonal} {
		rec := hw.NewRecorder(0)
		d, err := New(context.Background(), rec, g)
		require.NoError(t, err)

		assert.Equal(t, Identity(), d.Frame(), g.Name)
		assert.Equal(t, Forward, d.LastCommand(), g.Name)
		assert.Len(t, polarityWrites(rec.Writes()), NumRoles, g.Name)
		assert.Equal(t, g.Base[0], rec.Polarity(), g.Name)
	}
}

func TestFrame_Turns(t *testing.T) {
	f := Identity()
	assert.Equal(t, Frame{3, 0, 1, 2}, f.Apply(turnLeft))
	assert.Equal(t, Frame{1, 2, 3, 0}, f.Apply(turnRight))
	assert.Equal(t, Frame{2, 3, 0, 1}, f.Apply(turnBack))
	assert.Equal(t, f, f.Apply(turnLeft).Apply(turnRight))
	assert.Equal(t, f, f.Apply(turnBack).Apply(turnBack))
	assert.Equal(t, f.Apply(turnBack), f.Apply(turnLeft).Apply(turnLeft))
	assert.Equal(t, 1, f.Apply(turnLeft).Slot(Back))
}

func TestTurn_KeepsBijection(t *testing.T) {
	headings := []Heading{HeadingLeft, HeadingRight, HeadingBack, HeadingLeft, HeadingLeft, HeadingBack, HeadingRight}
	for _, g := range []*Geometry{Orthogonal, Diagonal} {
		d, _ := newTestDrive(t, g)
		for _, h := range headings {
			require.NoError(t, d.Turn(context.Background(), h))
			assert.True(t, d.Frame().Valid(), "%s after %s: %v", g.Name, h, d.Frame())
		}
	}
}

func TestTurn_ResetRestoresIdentity(t *testing.T) {
	ctx := context.Background()
	sequences := [][]Heading{
		{HeadingLeft},
		{HeadingRight, HeadingRight, HeadingRight},
		{HeadingBack, HeadingLeft},
		{HeadingLeft, HeadingBack, HeadingRight, HeadingRight, HeadingLeft},
	}

	for _, g := range []*Geometry{Orthogonal, Diagonal} {
		for _, seq := range sequences {
			d, rec := newTestDrive(t, g)
			for _, h := range seq {
				require.NoError(t, d.Turn(ctx, h))
			}
			require.NoError(t, d.Move(ctx, StrafeRight, 40, false))
			require.NoError(t, d.Turn(ctx, HeadingReset))

			assert.Equal(t, Identity(), d.Frame(), "%s %v", g.Name, seq)
			assert.Equal(t, Forward, d.LastCommand())
			assert.Equal(t, g.Base[0], d.Polarity())
			assert.Equal(t, g.Base[0], rec.Polarity())
		}
	}
}

func TestTurn_FrontIsReset(t *testing.T) {
	d, _ := newTestDrive(t, Orthogonal)
	ctx := context.Background()
	require.NoError(t, d.Turn(ctx, HeadingRight))
	require.NoError(t, d.Turn(ctx, HeadingFront))
	assert.Equal(t, Identity(), d.Frame())
}

func TestTurn_UnknownIsNoop(t *testing.T) {
	d, rec := newTestDrive(t, Orthogonal)
	ctx := context.Background()
	require.NoError(t, d.Turn(ctx, HeadingLeft))
	require.NoError(t, d.Move(ctx, Backward, 10, false))
	rec.Writes()

	frame, last, pol := d.Frame(), d.LastCommand(), d.Polarity()
	require.NoError(t, d.Turn(ctx, Heading(99)))

	assert.Equal(t, frame, d.Frame())
	assert.Equal(t, last, d.LastCommand())
	assert.Equal(t, pol, d.Polarity())
	assert.Empty(t, rec.Writes())
}

func TestTurn_RecomputesPolarity(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		headings []Heading
		front    int
		want     [NumRoles]bool // per physical slot
	}{
		{[]Heading{HeadingRight}, 1, [NumRoles]bool{true, false, true, false}},
		{[]Heading{HeadingBack}, 2, [NumRoles]bool{true, true, true, true}},
		{[]Heading{HeadingLeft}, 3, [NumRoles]bool{false, true, false, true}},
		{[]Heading{HeadingLeft, HeadingLeft}, 2, [NumRoles]bool{true, true, true, true}},
	}

	for _, tt := range tests {
		d, rec := newTestDrive(t, Orthogonal)
		require.NoError(t, d.Move(ctx, StrafeRight, 50, false))
		for _, h := range tt.headings {
			require.NoError(t, d.Turn(ctx, h))
		}
		assert.Equal(t, tt.front, d.Frame().Slot(Front), "%v", tt.headings)
		assert.Equal(t, tt.want, rec.Polarity(), "%v", tt.headings)
	}
}

func TestMove_ForwardBackwardFlipsDriveAxisOnly(t *testing.T) {
	ctx := context.Background()
	for _, h := range []Heading{HeadingReset, HeadingLeft, HeadingRight, HeadingBack} {
		d, rec := newTestDrive(t, Orthogonal)
		require.NoError(t, d.Turn(ctx, h))
		require.NoError(t, d.Move(ctx, Forward, 100, false))
		before := d.Polarity()
		rec.Writes()

		require.NoError(t, d.Move(ctx, Backward, 100, false))
		flipped := polarityWrites(rec.Writes())
		after := d.Polarity()

		left, right := d.Frame().Slot(Left), d.Frame().Slot(Right)
		assert.Len(t, flipped, 2, "heading %s", h)
		assert.Contains(t, flipped, left)
		assert.Contains(t, flipped, right)
		assert.Equal(t, !before[left], after[left])
		assert.Equal(t, !before[right], after[right])

		front, back := d.Frame().Slot(Front), d.Frame().Slot(Back)
		assert.Equal(t, before[front], after[front])
		assert.Equal(t, before[back], after[back])
	}
}

func TestMove_SameDirectionDoesNotFlip(t *testing.T) {
	d, rec := newTestDrive(t, Orthogonal)
	ctx := context.Background()
	require.NoError(t, d.Move(ctx, Backward, 100, false))
	rec.Writes()

	require.NoError(t, d.Move(ctx, Backward, 120, false))
	assert.Empty(t, polarityWrites(rec.Writes()))
}

func TestMove_PolarityFollowsLastCommand(t *testing.T) {
	ctx := context.Background()
	dirs := []Direction{Forward, StrafeRight, Backward, StrafeLeft, StrafeRight, StrafeRight, Backward, Forward, StrafeLeft}

	for _, g := range []*Geometry{Orthogonal, Diagonal} {
		for _, h := range []Heading{HeadingReset, HeadingLeft, HeadingBack, HeadingRight} {
			d, rec := newTestDrive(t, g)
			require.NoError(t, d.Turn(ctx, h))
			for _, dir := range dirs {
				require.NoError(t, d.Move(ctx, dir, 60, true))

				want := g.polarity(d.Frame(), dir)
				for r, high := range want {
					slot := d.Frame().Slot(Role(r))
					assert.Equal(t, high, d.Polarity()[slot], "%s %s %s role %d", g.Name, h, dir, r)
					assert.Equal(t, high, rec.Polarity()[slot])
				}
			}
		}
	}
}

func TestMove_OrthogonalActivation(t *testing.T) {
	ctx := context.Background()
	d, rec := newTestDrive(t, Orthogonal)
	require.NoError(t, d.Turn(ctx, HeadingRight))
	f := d.Frame()

	// Strafing with adjust keeps the forward axis running.
	require.NoError(t, d.Move(ctx, Forward, 80, false))
	require.NoError(t, d.Move(ctx, StrafeLeft, 30, true))
	duty := rec.Duty()
	assert.Equal(t, uint8(80), duty[f.Slot(Left)])
	assert.Equal(t, uint8(80), duty[f.Slot(Right)])
	assert.Equal(t, uint8(30), duty[f.Slot(Front)])
	assert.Equal(t, uint8(30), duty[f.Slot(Back)])

	// Without adjust the forward axis is zeroed.
	require.NoError(t, d.Move(ctx, StrafeRight, 40, false))
	duty = rec.Duty()
	assert.Equal(t, uint8(0), duty[f.Slot(Left)])
	assert.Equal(t, uint8(0), duty[f.Slot(Right)])
	assert.Equal(t, uint8(40), duty[f.Slot(Front)])
	assert.Equal(t, uint8(40), duty[f.Slot(Back)])

	// Forward always zeroes the strafe axis.
	require.NoError(t, d.Move(ctx, Forward, 90, true))
	duty = rec.Duty()
	assert.Equal(t, uint8(90), duty[f.Slot(Left)])
	assert.Equal(t, uint8(0), duty[f.Slot(Front)])
}

func TestMove_DiagonalActivation(t *testing.T) {
	ctx := context.Background()
	d, rec := newTestDrive(t, Diagonal)

	require.NoError(t, d.Move(ctx, Forward, 70, false))
	assert.Equal(t, [NumRoles]uint8{70, 70, 70, 70}, rec.Duty())

	require.NoError(t, d.Move(ctx, StrafeLeft, 50, false))
	assert.Equal(t, [NumRoles]uint8{50, 50, 50, 50}, rec.Duty())

	require.NoError(t, d.Move(ctx, StrafeLeft, 20, true))
	duty := rec.Duty()
	assert.Equal(t, uint8(0), duty[FrontLeft])
	assert.Equal(t, uint8(20), duty[FrontRight])
	assert.Equal(t, uint8(0), duty[BackRight])
	assert.Equal(t, uint8(20), duty[BackLeft])

	require.NoError(t, d.Move(ctx, StrafeRight, 25, true))
	duty = rec.Duty()
	assert.Equal(t, uint8(25), duty[FrontLeft])
	assert.Equal(t, uint8(0), duty[FrontRight])
	assert.Equal(t, uint8(25), duty[BackRight])
	assert.Equal(t, uint8(0), duty[BackLeft])
}

func TestMove_DiagonalStrafeReversesPair(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDrive(t, Diagonal)
	base := d.Polarity()

	require.NoError(t, d.Move(ctx, StrafeLeft, 50, false))
	p := d.Polarity()
	assert.Equal(t, !base[FrontLeft], p[FrontLeft])
	assert.Equal(t, !base[BackRight], p[BackRight])
	assert.Equal(t, base[FrontRight], p[FrontRight])
	assert.Equal(t, base[BackLeft], p[BackLeft])

	require.NoError(t, d.Move(ctx, Forward, 50, false))
	assert.Equal(t, base, d.Polarity())
}

func TestMove_UnknownIsNoop(t *testing.T) {
	ctx := context.Background()
	d, rec := newTestDrive(t, Orthogonal)
	require.NoError(t, d.Move(ctx, Backward, 10, false))
	rec.Writes()

	require.NoError(t, d.Move(ctx, Direction(0), 200, false))
	require.NoError(t, d.Move(ctx, Direction(17), 200, true))

	assert.Equal(t, Backward, d.LastCommand())
	assert.Empty(t, rec.Writes())
}

func TestStop(t *testing.T) {
	ctx := context.Background()
	d, rec := newTestDrive(t, Orthogonal)
	require.NoError(t, d.Move(ctx, Forward, 80, false))
	require.NoError(t, d.Move(ctx, StrafeLeft, 30, true))

	require.NoError(t, d.StopAxis(ctx, 1))
	assert.Equal(t, [NumRoles]uint8{30, 0, 30, 0}, rec.Duty())

	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, [NumRoles]uint8{}, rec.Duty())
}

type failingDriver struct{}

var errBus = errors.New("bus down")

func (failingDriver) WriteDuty(context.Context, int, uint8) error { return errBus }
func (failingDriver) WritePolarity(context.Context, int, bool) error {
	return errBus
}

func TestNew_PropagatesDriverErrors(t *testing.T) {
	_, err := New(context.Background(), failingDriver{}, Orthogonal)
	assert.ErrorIs(t, err, errBus)
}

func TestDirection_MarshalText(t *testing.T) {
	data, err := json.Marshal(map[string]Direction{"a": StrafeLeft, "b": Forward, "c": 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"left","b":"forward","c":""}`, string(data))
}

func TestParse(t *testing.T) {
	d, ok := ParseDirection("b")
	assert.True(t, ok)
	assert.Equal(t, Backward, d)
	_, ok = ParseDirection("x")
	assert.False(t, ok)

	h, ok := ParseHeading("left")
	assert.True(t, ok)
	assert.Equal(t, HeadingLeft, h)
	_, ok = ParseHeading("up")
	assert.False(t, ok)

	g, err := GeometryByName("diagonal")
	require.NoError(t, err)
	assert.Same(t, Diagonal, g)
	_, err = GeometryByName("tank")
	assert.ErrorIs(t, err, ErrUnknownGeometry)
}
