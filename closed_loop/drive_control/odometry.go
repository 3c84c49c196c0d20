package control

import (
	"math"

	"diffdrive-core/utils"
)

// OdomState is the published dead-reckoning estimate.
type OdomState struct {
	Linear    float64 `json:"linear"`
	Angular   float64 `json:"angular"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Heading   float64 `json:"heading"`
	LeftDist  float64 `json:"left_dist"`
	RightDist float64 `json:"right_dist"`
}

// OdomPublisher receives every odometry update, including resets.
type OdomPublisher interface {
	PublishOdometry(OdomState)
}

// OdomPublisherFunc adapts a function to OdomPublisher.
type OdomPublisherFunc func(OdomState)

func (f OdomPublisherFunc) PublishOdometry(s OdomState) { f(s) }

type nopPublisher struct{}

func (nopPublisher) PublishOdometry(OdomState) {}

// Odometry integrates wheel travel into position and heading.
type Odometry struct {
	left, right *Encoder
	geom        Geometry
	biasFn      BiasFunc
	pub         OdomPublisher
	debug       *Debug

	angularBias float64
	lastLeft    float64
	lastRight   float64
	state       OdomState
}

func NewOdometry(left, right *Encoder, geom Geometry, angularBias BiasFunc, pub OdomPublisher, debug *Debug) *Odometry {
	if angularBias == nil {
		angularBias = unitBias
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	o := &Odometry{
		left:   left,
		right:  right,
		geom:   geom,
		biasFn: angularBias,
		pub:    pub,
		debug:  debug,
	}
	o.Reset()
	return o
}

// SetPublisher replaces the odometry sink.
func (o *Odometry) SetPublisher(pub OdomPublisher) {
	if pub == nil {
		pub = nopPublisher{}
	}
	o.pub = pub
}

func (o *Odometry) Update() {
	r := o.geom.WheelRadiusM
	lm, rm := o.left.Mps(), o.right.Mps()
	linear, angular := utils.DiffToUni(lm/r, rm/r, r, o.geom.TrackWidthM)

	ld, rd := o.left.Distance(), o.right.Distance()
	dl := ld - o.lastLeft
	dr := rd - o.lastRight
	o.lastLeft, o.lastRight = ld, rd
	center := (dl + dr) / 2

	s := &o.state
	s.Heading += o.angularBias * (dr - dl) / o.geom.TrackWidthM
	s.X += center * math.Cos(s.Heading)
	s.Y += center * math.Sin(s.Heading)
	s.Heading = utils.NormalizeHeading(s.Heading)
	s.Linear = linear
	s.Angular = o.angularBias * angular
	s.LeftDist += dl
	s.RightDist += dr

	o.pub.PublishOdometry(*s)
	o.debug.Printf(DebugOdometry, "odom: ls %.3f rs %.3f x %.3f y %.3f th %.3f lv %.3f av %.3f ab %.3f",
		lm, rm, s.X, s.Y, s.Heading, s.Linear, s.Angular, o.angularBias)
}

// Reset zeroes the estimate, reloads the bias and publishes the zero state.
func (o *Odometry) Reset() {
	o.state = OdomState{}
	o.lastLeft = o.left.Distance()
	o.lastRight = o.right.Distance()
	o.angularBias = o.biasFn()
	o.pub.PublishOdometry(o.state)
}

func (o *Odometry) Snapshot() OdomState { return o.state }
func (o *Odometry) Heading() float64    { return o.state.Heading }

// MeasuredVelocity returns the last measured linear and angular velocity.
func (o *Odometry) MeasuredVelocity() (float64, float64) {
	return o.state.Linear, o.state.Angular
}

func (o *Odometry) AngularBias() float64 { return o.angularBias }
