package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btb-finance/clmm-core/lib/fullmath"
	"github.com/btb-finance/clmm-core/lib/pool"
	"github.com/btb-finance/clmm-core/lib/position"
	"github.com/btb-finance/clmm-core/lib/tickarray"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
)

const snapshotVersion uint8 = 1

var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// encoder keeps the first write error so the snapshot layout reads top to
// bottom.
type encoder struct {
	enc *bin.Encoder
	err error
}

func (e *encoder) u8(v uint8) {
	if e.err == nil {
		e.err = e.enc.WriteUint8(v)
	}
}

func (e *encoder) u16(v uint16) {
	if e.err == nil {
		e.err = e.enc.WriteUint16(v, binary.LittleEndian)
	}
}

func (e *encoder) u32(v uint32) {
	if e.err == nil {
		e.err = e.enc.WriteUint32(v, binary.LittleEndian)
	}
}

func (e *encoder) i32(v int32) {
	if e.err == nil {
		e.err = e.enc.WriteInt32(v, binary.LittleEndian)
	}
}

func (e *encoder) key(k solana.PublicKey) {
	if e.err == nil {
		e.err = e.enc.WriteBytes(k[:], false)
	}
}

func (e *encoder) u128(v *ui.Int) {
	if e.err != nil {
		return
	}
	if !fullmath.Fits128(v) {
		e.err = fmt.Errorf("value %s exceeds u128", v.Dec())
		return
	}
	e.err = e.enc.WriteUint128(bin.Uint128{Lo: v[0], Hi: v[1], Endianness: binary.LittleEndian}, binary.LittleEndian)
}

func (e *encoder) i128(v *ui.Int) {
	if e.err != nil {
		return
	}
	if !fullmath.FitsInt128(v) {
		e.err = fmt.Errorf("value %s exceeds i128", v.Dec())
		return
	}
	e.err = e.enc.WriteInt128(bin.Int128{Lo: v[0], Hi: v[1], Endianness: binary.LittleEndian}, binary.LittleEndian)
}

// EncodePool serializes a pool with Borsh. Tick arrays are written only if
// initialized.
func EncodePool(p *pool.Pool) ([]byte, error) {
	buf := new(bytes.Buffer)
	e := &encoder{enc: bin.NewBorshEncoder(buf)}

	e.u8(snapshotVersion)
	e.key(p.ID)
	e.key(p.Owner)
	e.key(p.TokenMint0)
	e.key(p.TokenMint1)
	e.key(p.TokenVault0)
	e.key(p.TokenVault1)
	e.u32(p.FeeRate)
	e.u8(p.ProtocolFeeRate)
	e.u16(p.TickSpacing)
	e.u128(p.Liquidity)
	e.u128(p.SqrtPriceX64)
	e.i32(p.TickCurrent)
	e.u128(p.FeeGrowthGlobal0X64)
	e.u128(p.FeeGrowthGlobal1X64)
	e.u128(p.ProtocolFees0)
	e.u128(p.ProtocolFees1)

	arrays := p.TickArrays.Arrays()
	e.u32(uint32(len(arrays)))
	for _, a := range arrays {
		e.i32(a.StartTickIndex)
		for i := range a.Ticks {
			t := &a.Ticks[i]
			e.i128(&t.LiquidityNet)
			e.u128(&t.LiquidityGross)
			e.u128(&t.FeeGrowthOutside0X64)
			e.u128(&t.FeeGrowthOutside1X64)
		}
	}

	ids := p.PositionIDs()
	e.u32(uint32(len(ids)))
	for _, id := range ids {
		pos := p.Positions[id]
		e.key(pos.ID)
		e.key(pos.Owner)
		e.i32(pos.TickLowerIndex)
		e.i32(pos.TickUpperIndex)
		e.u128(pos.Liquidity)
		e.u128(pos.FeeGrowthInside0LastX64)
		e.u128(pos.FeeGrowthInside1LastX64)
		e.u128(pos.TokensOwed0)
		e.u128(pos.TokensOwed1)
	}

	if e.err != nil {
		return nil, fmt.Errorf("encode pool %s: %w", p.ID, e.err)
	}
	return buf.Bytes(), nil
}

type decoder struct {
	dec *bin.Decoder
	err error
}

func (d *decoder) u8() uint8 {
	if d.err != nil {
		return 0
	}
	v, err := d.dec.ReadUint8()
	d.err = err
	return v
}

func (d *decoder) u16() uint16 {
	if d.err != nil {
		return 0
	}
	v, err := d.dec.ReadUint16(binary.LittleEndian)
	d.err = err
	return v
}

func (d *decoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.dec.ReadUint32(binary.LittleEndian)
	d.err = err
	return v
}

func (d *decoder) i32() int32 {
	if d.err != nil {
		return 0
	}
	v, err := d.dec.ReadInt32(binary.LittleEndian)
	d.err = err
	return v
}

func (d *decoder) key() solana.PublicKey {
	var k solana.PublicKey
	if d.err != nil {
		return k
	}
	b, err := d.dec.ReadNBytes(len(k))
	d.err = err
	copy(k[:], b)
	return k
}

func (d *decoder) u128() *ui.Int {
	z := new(ui.Int)
	if d.err != nil {
		return z
	}
	v, err := d.dec.ReadUint128(binary.LittleEndian)
	d.err = err
	z[0], z[1] = v.Lo, v.Hi
	return z
}

func (d *decoder) i128() *ui.Int {
	z := new(ui.Int)
	if d.err != nil {
		return z
	}
	v, err := d.dec.ReadInt128(binary.LittleEndian)
	d.err = err
	z[0], z[1] = v.Lo, v.Hi
	if v.Hi>>63 == 1 {
		z[2], z[3] = ^uint64(0), ^uint64(0)
	}
	return z
}

// DecodePool rebuilds a pool written by EncodePool.
func DecodePool(data []byte) (*pool.Pool, error) {
	d := &decoder{dec: bin.NewBorshDecoder(data)}

	if v := d.u8(); d.err == nil && v != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	p := &pool.Pool{
		ID:          d.key(),
		Owner:       d.key(),
		TokenMint0:  d.key(),
		TokenMint1:  d.key(),
		TokenVault0: d.key(),
		TokenVault1: d.key(),
	}
	p.FeeRate = d.u32()
	p.ProtocolFeeRate = d.u8()
	p.TickSpacing = d.u16()
	p.Liquidity = d.u128()
	p.SqrtPriceX64 = d.u128()
	p.TickCurrent = d.i32()
	p.FeeGrowthGlobal0X64 = d.u128()
	p.FeeGrowthGlobal1X64 = d.u128()
	p.ProtocolFees0 = d.u128()
	p.ProtocolFees1 = d.u128()
	if d.err != nil {
		return nil, fmt.Errorf("decode pool header: %w", d.err)
	}
	if err := tickarray.ValidateTickSpacing(p.TickSpacing); err != nil {
		return nil, err
	}

	p.TickArrays = tickarray.NewRegistry(p.TickSpacing)
	arrays := d.u32()
	for i := uint32(0); i < arrays && d.err == nil; i++ {
		a, err := tickarray.InitializeTickArray(d.i32(), p.TickSpacing)
		if d.err != nil {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode tick array %d: %w", i, err)
		}
		for k := range a.Ticks {
			t := &a.Ticks[k]
			t.LiquidityNet.Set(d.i128())
			t.LiquidityGross.Set(d.u128())
			t.FeeGrowthOutside0X64.Set(d.u128())
			t.FeeGrowthOutside1X64.Set(d.u128())
		}
		if err := p.TickArrays.Restore(a); err != nil {
			return nil, err
		}
	}

	positions := d.u32()
	p.Positions = make(map[solana.PublicKey]*position.Position, positions)
	for i := uint32(0); i < positions && d.err == nil; i++ {
		pos := position.NewPosition(d.key(), p.ID, d.key(), d.i32(), d.i32())
		pos.Liquidity = d.u128()
		pos.FeeGrowthInside0LastX64 = d.u128()
		pos.FeeGrowthInside1LastX64 = d.u128()
		pos.TokensOwed0 = d.u128()
		pos.TokensOwed1 = d.u128()
		p.Positions[pos.ID] = pos
	}
	if d.err != nil {
		return nil, fmt.Errorf("decode pool %s: %w", p.ID, d.err)
	}
	return p, nil
}
