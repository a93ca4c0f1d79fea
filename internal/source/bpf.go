package source

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// compileBPF compiles a libpcap filter expression for the given link type
// into a raw classic BPF program.
func compileBPF(link layers.LinkType, snapLen int, expr string) ([]bpf.RawInstruction, error) {
	insns, err := pcap.CompileBPFFilter(link, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile BPF filter %q: %w", expr, err)
	}

	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

// filterVM compiles expr into a userspace BPF matcher. A nil VM matches
// everything.
func filterVM(link layers.LinkType, snapLen int, expr string) (*bpf.VM, error) {
	if expr == "" {
		return nil, nil
	}
	raw, err := compileBPF(link, snapLen, expr)
	if err != nil {
		return nil, err
	}
	prog, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("filter %q uses instructions the userspace VM cannot run", expr)
	}
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to load filter %q: %w", expr, err)
	}
	return vm, nil
}

// matches reports whether vm accepts the frame. A VM error drops the frame.
func matches(vm *bpf.VM, data []byte) bool {
	if vm == nil {
		return true
	}
	n, err := vm.Run(data)
	return err == nil && n > 0
}
