package cryptoutils

import (
	"fmt"
	"io"

	"github.com/dots-platform/skrecovery-app/interfaces"
)

// maxLeadingResamples bounds how often a zero leading coefficient is redrawn.
const maxLeadingResamples = 8

// Polynomial is a polynomial over the scalar field, lowest coefficient first.
type Polynomial struct {
	coefficients []Scalar
}

// NewRandomPolynomial returns a degree-exact polynomial with the given
// constant term and uniformly random higher coefficients.
func NewRandomPolynomial(constant *Scalar, degree int, rng io.Reader) (*Polynomial, error) {
	if degree < 0 {
		return nil, fmt.Errorf("%w: negative degree %d", interfaces.ErrInvalidParameters, degree)
	}

	p := &Polynomial{coefficients: make([]Scalar, degree+1)}
	p.coefficients[0].Set(constant)

	for i := 1; i <= degree; i++ {
		c, err := RandomScalar(rng)
		if err != nil {
			p.Zeroize()
			return nil, err
		}
		p.coefficients[i].Set(c)
		c.Zero()
	}

	// RandomScalar never returns zero, so this only trips on a broken source
	// that yields the same rejected value forever.
	for attempt := 0; degree > 0 && p.coefficients[degree].IsZero(); attempt++ {
		if attempt == maxLeadingResamples {
			p.Zeroize()
			return nil, interfaces.ErrDegeneratePolynomial
		}
		c, err := RandomScalar(rng)
		if err != nil {
			p.Zeroize()
			return nil, err
		}
		p.coefficients[degree].Set(c)
	}

	return p, nil
}

// NewPolynomial wraps explicit coefficients, lowest first.
func NewPolynomial(coefficients []*Scalar) *Polynomial {
	p := &Polynomial{coefficients: make([]Scalar, len(coefficients))}
	for i, c := range coefficients {
		p.coefficients[i].Set(c)
	}
	return p
}

// Degree returns the nominal degree.
func (p *Polynomial) Degree() int {
	return len(p.coefficients) - 1
}

// Coefficient returns a copy of the i-th coefficient.
func (p *Polynomial) Coefficient(i int) *Scalar {
	return new(Scalar).Set(&p.coefficients[i])
}

// Evaluate computes p(x) with Horner's method.
func (p *Polynomial) Evaluate(x *Scalar) *Scalar {
	result := new(Scalar)
	for i := len(p.coefficients) - 1; i >= 0; i-- {
		result.Mul(x).Add(&p.coefficients[i])
	}
	return result
}

// EvaluateAt evaluates p at a party identifier.
func (p *Polynomial) EvaluateAt(id int) *Scalar {
	return p.Evaluate(ScalarFromInt(id))
}

// Zeroize clears all coefficients.
func (p *Polynomial) Zeroize() {
	for i := range p.coefficients {
		p.coefficients[i].Zero()
	}
}
