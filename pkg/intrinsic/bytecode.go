package intrinsic

// Machine code for every intrinsic, one sequence per pointer width.
//
// 64-bit sequences take their argument in RDI (System V). The trampoline
// in package thunk loads the argument into both RDI and RCX, so the same
// bytes run under the Microsoft x64 convention, where RDI is only read.
// 32-bit sequences are cdecl: the argument is at [ESP+4] on entry and
// 64-bit results are returned in EDX:EAX. EBX, EDI and ESI are
// callee-saved in every convention and are restored before returning.

// Reports whether bit 21 (ID) of EFLAGS can be toggled, which is the
// architectural test for CPUID support. Returns 1 or 0.
var (
	featureProbeX86 = []byte{
		0x9c,       // pushfd
		0x58,       // pop eax
		0x89, 0xc1, // mov ecx, eax
		0x35, 0x00, 0x00, 0x20, 0x00, // xor eax, 0x200000
		0x50,       // push eax
		0x9d,       // popfd
		0x9c,       // pushfd
		0x58,       // pop eax
		0x51,       // push ecx
		0x9d,       // popfd
		0x31, 0xc8, // xor eax, ecx
		0xc1, 0xe8, 0x15, // shr eax, 21
		0x83, 0xe0, 0x01, // and eax, 1
		0x31, 0xd2, // xor edx, edx
		0xc3, // ret
	}
	featureProbeX64 = []byte{
		0x9c,             // pushfq
		0x58,             // pop rax
		0x48, 0x89, 0xc1, // mov rcx, rax
		0x48, 0x35, 0x00, 0x00, 0x20, 0x00, // xor rax, 0x200000
		0x50,             // push rax
		0x9d,             // popfq
		0x9c,             // pushfq
		0x58,             // pop rax
		0x51,             // push rcx
		0x9d,             // popfq
		0x48, 0x31, 0xc8, // xor rax, rcx
		0x48, 0xc1, 0xe8, 0x15, // shr rax, 21
		0x48, 0x83, 0xe0, 0x01, // and rax, 1
		0xc3, // ret
	}
)

// Executes CPUID with EAX and ECX loaded from a four word buffer
// {eax, ebx, ecx, edx} and stores the four output registers back into it.
var (
	cpuidX86 = []byte{
		0x53,                   // push ebx
		0x57,                   // push edi
		0x8b, 0x7c, 0x24, 0x0c, // mov edi, [esp+12]
		0x8b, 0x07, // mov eax, [edi]
		0x8b, 0x4f, 0x08, // mov ecx, [edi+8]
		0x0f, 0xa2, // cpuid
		0x89, 0x07, // mov [edi], eax
		0x89, 0x5f, 0x04, // mov [edi+4], ebx
		0x89, 0x4f, 0x08, // mov [edi+8], ecx
		0x89, 0x57, 0x0c, // mov [edi+12], edx
		0x5f, // pop edi
		0x5b, // pop ebx
		0xc3, // ret
	}
	cpuidX64 = []byte{
		0x53,       // push rbx
		0x8b, 0x07, // mov eax, [rdi]
		0x8b, 0x4f, 0x08, // mov ecx, [rdi+8]
		0x0f, 0xa2, // cpuid
		0x89, 0x07, // mov [rdi], eax
		0x89, 0x5f, 0x04, // mov [rdi+4], ebx
		0x89, 0x4f, 0x08, // mov [rdi+8], ecx
		0x89, 0x57, 0x0c, // mov [rdi+12], edx
		0x5b, // pop rbx
		0xc3, // ret
	}
)

// Timestamp counter reads. The 64-bit variants merge EDX:EAX into RAX.
var (
	rdtscX86 = []byte{
		0x0f, 0x31, // rdtsc
		0xc3, // ret
	}
	rdtscX64 = []byte{
		0x0f, 0x31, // rdtsc
		0x48, 0xc1, 0xe2, 0x20, // shl rdx, 32
		0x48, 0x09, 0xd0, // or rax, rdx
		0xc3, // ret
	}

	rdtscOrderedX86 = []byte{
		0x0f, 0xae, 0xe8, // lfence
		0x0f, 0x31, // rdtsc
		0xc3, // ret
	}
	rdtscOrderedX64 = []byte{
		0x0f, 0xae, 0xe8, // lfence
		0x0f, 0x31, // rdtsc
		0x48, 0xc1, 0xe2, 0x20, // shl rdx, 32
		0x48, 0x09, 0xd0, // or rax, rdx
		0xc3, // ret
	}

	rdtscpX86 = []byte{
		0x0f, 0x01, 0xf9, // rdtscp
		0xc3, // ret
	}
	rdtscpX64 = []byte{
		0x0f, 0x01, 0xf9, // rdtscp
		0x48, 0xc1, 0xe2, 0x20, // shl rdx, 32
		0x48, 0x09, 0xd0, // or rax, rdx
		0xc3, // ret
	}

	rdtscSerializedX86 = []byte{
		0x53,       // push ebx
		0x31, 0xc0, // xor eax, eax
		0x0f, 0xa2, // cpuid
		0x0f, 0x31, // rdtsc
		0x5b, // pop ebx
		0xc3, // ret
	}
	rdtscSerializedX64 = []byte{
		0x53,       // push rbx
		0x31, 0xc0, // xor eax, eax
		0x0f, 0xa2, // cpuid
		0x0f, 0x31, // rdtsc
		0x48, 0xc1, 0xe2, 0x20, // shl rdx, 32
		0x48, 0x09, 0xd0, // or rax, rdx
		0x5b, // pop rbx
		0xc3, // ret
	}
)

// Hardware random numbers. The value is stored through the pointer
// argument (32 bits on x86, 64 bits on x64) and the carry flag, which the
// instruction sets on success, is returned as 1 or 0.
var (
	rdrandX86 = []byte{
		0x8b, 0x4c, 0x24, 0x04, // mov ecx, [esp+4]
		0x0f, 0xc7, 0xf0, // rdrand eax
		0x89, 0x01, // mov [ecx], eax
		0x0f, 0x92, 0xc0, // setc al
		0x0f, 0xb6, 0xc0, // movzx eax, al
		0x31, 0xd2, // xor edx, edx
		0xc3, // ret
	}
	rdrandX64 = []byte{
		0x48, 0x0f, 0xc7, 0xf0, // rdrand rax
		0x48, 0x89, 0x07, // mov [rdi], rax
		0x0f, 0x92, 0xc0, // setc al
		0x0f, 0xb6, 0xc0, // movzx eax, al
		0xc3, // ret
	}

	rdseedX86 = []byte{
		0x8b, 0x4c, 0x24, 0x04, // mov ecx, [esp+4]
		0x0f, 0xc7, 0xf8, // rdseed eax
		0x89, 0x01, // mov [ecx], eax
		0x0f, 0x92, 0xc0, // setc al
		0x0f, 0xb6, 0xc0, // movzx eax, al
		0x31, 0xd2, // xor edx, edx
		0xc3, // ret
	}
	rdseedX64 = []byte{
		0x48, 0x0f, 0xc7, 0xf8, // rdseed rax
		0x48, 0x89, 0x07, // mov [rdi], rax
		0x0f, 0x92, 0xc0, // setc al
		0x0f, 0xb6, 0xc0, // movzx eax, al
		0xc3, // ret
	}
)

// Bytecode returns the x86 and x64 byte sequences of the intrinsic id.
func Bytecode(id ID) (x86, x64 []byte, ok bool) {
	switch id {
	case IDFeatureProbe:
		return featureProbeX86, featureProbeX64, true
	case IDCPUID:
		return cpuidX86, cpuidX64, true
	case IDRDTSC:
		return rdtscX86, rdtscX64, true
	case IDRDTSCOrdered:
		return rdtscOrderedX86, rdtscOrderedX64, true
	case IDRDTSCP:
		return rdtscpX86, rdtscpX64, true
	case IDRDTSCSerialized:
		return rdtscSerializedX86, rdtscSerializedX64, true
	case IDRDRAND:
		return rdrandX86, rdrandX64, true
	case IDRDSEED:
		return rdseedX86, rdseedX64, true
	}
	return nil, nil, false
}
