package rv64

import (
	"context"
	"testing"
	"time"
)

// Instruction encoders used by the tests.

func encR(op, f3, f7, rd, rs1, rs2 uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encI(op, f3, rd, rs1 uint32, imm int64) uint32 {
	return uint32(imm&0xfff)<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encS(op, f3, rs1, rs2 uint32, imm int64) uint32 {
	u := uint32(imm)
	return ((u>>5)&0x7f)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (u&0x1f)<<7 | op
}

func encB(f3, rs1, rs2 uint32, imm int64) uint32 {
	u := uint32(imm)
	return ((u>>12)&1)<<31 | ((u>>5)&0x3f)<<25 | rs2<<20 | rs1<<15 | f3<<12 |
		((u>>1)&0xf)<<8 | ((u>>11)&1)<<7 | OpBranch
}

func encU(op, rd uint32, imm int64) uint32 {
	return uint32(imm)&0xfffff000 | rd<<7 | op
}

func encJ(rd uint32, imm int64) uint32 {
	u := uint32(imm)
	return ((u>>20)&1)<<31 | ((u>>1)&0x3ff)<<21 | ((u>>11)&1)<<20 | ((u>>12)&0xff)<<12 | rd<<7 | OpJal
}

func addi(rd, rs1 uint32, imm int64) uint32 { return encI(OpOpImm, 0, rd, rs1, imm) }
func add(rd, rs1, rs2 uint32) uint32        { return encR(OpOp, 0, 0, rd, rs1, rs2) }
func lui(rd uint32, imm int64) uint32       { return encU(OpLui, rd, imm) }
func sb(rs1, rs2 uint32, imm int64) uint32  { return encS(OpStore, 0, rs1, rs2, imm) }
func sd(rs1, rs2 uint32, imm int64) uint32  { return encS(OpStore, 3, rs1, rs2, imm) }
func ld(rd, rs1 uint32, imm int64) uint32   { return encI(OpLoad, 3, rd, rs1, imm) }

func csrInsn(f3, rd, rs1 uint32, csr uint16) uint32 {
	return uint32(csr)<<20 | rs1<<15 | f3<<12 | rd<<7 | OpSystem
}

func amo(f5, f3, rd, rs1, rs2 uint32) uint32 {
	return encR(OpAMO, f3, f5<<2, rd, rs1, rs2)
}

// newTestMachine builds a machine with 1MB of RAM and code at RAMBase.
func newTestMachine(t *testing.T, code []uint32, opts ...Option) *Machine {
	t.Helper()
	opts = append([]Option{WithMemory(1024 * 1024)}, opts...)
	m := NewMachine(opts...)
	image := make([]byte, 4*len(code))
	for i, insn := range code {
		cpuEndian.PutUint32(image[i*4:], insn)
	}
	if err := m.LoadProgram(image); err != nil {
		t.Fatalf("load program: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// runMachine runs m until it stops, with a one second safety timeout.
func runMachine(t *testing.T, m *Machine) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return m.Run(ctx)
}

// execOne executes insn as if it had been fetched from RAMBase.
func execOne(t *testing.T, cpu *CPU, insn uint32) error {
	t.Helper()
	cpu.PC = RAMBase + 4
	return cpu.Execute(Insn(insn))
}
