package qshard

import (
	"context"
	"encoding/binary"
	"math"
)

/*
Communicator is the explicit distributed context handed to an engine. Every
operation blocks until the matching call on the peer (or on every rank, for
collectives) has happened. Any error is fatal to the run.
*/
type Communicator interface {
	Rank() int
	Size() int
	// Exchange sends send to peer and fills recv with what peer sent back.
	Exchange(ctx context.Context, peer int, send, recv []complex128) error
	// AllReduce replaces values with their element-wise sum over all ranks.
	AllReduce(ctx context.Context, values []float64) error
	// AllGather returns every rank's values concatenated in rank order.
	AllGather(ctx context.Context, values []float64) ([]float64, error)
	Barrier(ctx context.Context) error
}

/*
Transport is the ordered point-to-point layer under a Communicator. Messages
between two ranks arrive in the order they were sent, and Send must not wait
for the matching Recv.
*/
type Transport interface {
	Rank() int
	Size() int
	Send(ctx context.Context, peer int, payload []byte) error
	Recv(ctx context.Context, peer int) ([]byte, error)
}

type messenger struct {
	transport Transport
}

// NewCommunicator builds exchange and collectives on top of a transport.
// Collectives use recursive doubling and need a power-of-two size.
func NewCommunicator(transport Transport) Communicator {
	return &messenger{transport: transport}
}

func (m *messenger) Rank() int {
	return m.transport.Rank()
}

func (m *messenger) Size() int {
	return m.transport.Size()
}

func (m *messenger) Exchange(ctx context.Context, peer int, send, recv []complex128) error {
	if peer < 0 || peer >= m.Size() {
		return commError(nil, "rank %d exchanging with missing peer %d", m.Rank(), peer)
	}

	if err := m.transport.Send(ctx, peer, encodeComplex(send)); err != nil {
		return commError(err, "rank %d send to %d", m.Rank(), peer)
	}

	payload, err := m.transport.Recv(ctx, peer)
	if err != nil {
		return commError(err, "rank %d receive from %d", m.Rank(), peer)
	}

	if len(payload) != 16*len(recv) {
		return commError(nil, "rank %d expected %d amplitudes from %d, got %d bytes", m.Rank(), len(recv), peer, len(payload))
	}

	decodeComplex(payload, recv)
	return nil
}

func (m *messenger) AllReduce(ctx context.Context, values []float64) error {
	other := make([]float64, len(values))

	for step := 1; step < m.Size(); step <<= 1 {
		peer := m.Rank() ^ step

		if err := m.swapReals(ctx, peer, values, other); err != nil {
			return err
		}

		// a+b and b+a round identically, so every rank ends bitwise equal
		for i := range values {
			values[i] += other[i]
		}
	}

	return nil
}

func (m *messenger) AllGather(ctx context.Context, values []float64) ([]float64, error) {
	width := len(values)
	gathered := make([]float64, width*m.Size())
	copy(gathered[m.Rank()*width:], values)

	for step := 1; step < m.Size(); step <<= 1 {
		peer := m.Rank() ^ step

		mine := m.Rank() &^ (step - 1)
		theirs := peer &^ (step - 1)
		send := gathered[mine*width : (mine+step)*width]
		recv := make([]float64, len(send))

		if err := m.swapReals(ctx, peer, send, recv); err != nil {
			return nil, err
		}

		copy(gathered[theirs*width:], recv)
	}

	return gathered, nil
}

func (m *messenger) Barrier(ctx context.Context) error {
	return m.AllReduce(ctx, nil)
}

func (m *messenger) swapReals(ctx context.Context, peer int, send, recv []float64) error {
	if err := m.transport.Send(ctx, peer, encodeReals(send)); err != nil {
		return commError(err, "rank %d collective send to %d", m.Rank(), peer)
	}

	payload, err := m.transport.Recv(ctx, peer)
	if err != nil {
		return commError(err, "rank %d collective receive from %d", m.Rank(), peer)
	}

	if len(payload) != 8*len(recv) {
		return commError(nil, "rank %d collective expected %d values from %d, got %d bytes", m.Rank(), len(recv), peer, len(payload))
	}

	for i := range recv {
		recv[i] = math.Float64frombits(binary.LittleEndian.Uint64(payload[8*i:]))
	}

	return nil
}

func encodeComplex(values []complex128) []byte {
	out := make([]byte, 16*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[16*i:], math.Float64bits(real(v)))
		binary.LittleEndian.PutUint64(out[16*i+8:], math.Float64bits(imag(v)))
	}
	return out
}

func decodeComplex(payload []byte, dst []complex128) {
	for i := range dst {
		re := math.Float64frombits(binary.LittleEndian.Uint64(payload[16*i:]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(payload[16*i+8:]))
		dst[i] = complex(re, im)
	}
}

func encodeReals(values []float64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}
