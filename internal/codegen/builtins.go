package codegen

import "github.com/samber/lo"

// ---------------------------------------------------------------------------
// Builtin runtime routines
//
// print_int and print_float are fixed runtime support, one template per word
// width. Each is queued at most once per program, on first use, together
// with the storage it needs, and written after the user functions:
//   print_int    print_buffer (bss, 32 bytes), newline (data)
//   print_float  print_int's storage + float_buf (bss, 64 bytes)
//
// Both take their argument in the first stack slot ([bp + 2*word]).
// print_float expects a single-precision value and prints six fractional
// digits.
// ---------------------------------------------------------------------------

func (e *Engine) addPrintIntHelper() {
	if e.printIntAdded {
		return
	}
	e.bss = append(e.bss, "    print_buffer: resb 32")
	e.data = append(e.data, "    newline: db 10")
	e.symbols["print_buffer"] = true
	e.symbols["newline"] = true
	e.symbols["print_int"] = true
	e.builtins = append(e.builtins, printIntRoutine(e.target.Bits)...)
	e.printIntAdded = true
	e.log.Debug("injected builtin", "name", "print_int")
}

func (e *Engine) addPrintFloatHelper() {
	if e.printFloatAdded {
		return
	}
	e.addPrintIntHelper()
	if !lo.Contains(e.bss, floatBufLine) {
		e.bss = append(e.bss, floatBufLine)
	}
	e.symbols["float_buf"] = true
	e.symbols["print_float"] = true
	e.builtins = append(e.builtins, printFloatRoutine(e.target.Bits)...)
	e.printFloatAdded = true
	e.log.Debug("injected builtin", "name", "print_float")
}

const floatBufLine = "    float_buf: resb 64"

func printIntRoutine(bits int) []string {
	switch bits {
	case 64:
		return printInt64
	case 32:
		return printInt32
	default:
		return printInt16
	}
}

func printFloatRoutine(bits int) []string {
	switch bits {
	case 64:
		return printFloat64
	case 32:
		return printFloat32
	default:
		return printFloat16
	}
}

var printInt64 = []string{
	"print_int:",
	"    push rbp",
	"    mov rbp, rsp",
	"    push rbx",
	"    push r12",
	"    push r13",
	"    mov rax, [rbp+16]",
	"    lea rsi, [print_buffer+31]",
	"    mov byte [rsi], 0",
	"    dec rsi",
	"    mov rbx, 10",
	"    test rax, rax",
	"    jns .positive",
	"    neg rax",
	"    mov r13, 1",
	"    jmp .convert",
	".positive:",
	"    xor r13, r13",
	".convert:",
	"    xor rdx, rdx",
	"    div rbx",
	"    add dl, '0'",
	"    mov [rsi], dl",
	"    dec rsi",
	"    test rax, rax",
	"    jnz .convert",
	"    test r13, r13",
	"    jz .print",
	"    mov byte [rsi], '-'",
	"    dec rsi",
	".print:",
	"    inc rsi",
	"    mov rax, 1",
	"    mov rdi, 1",
	"    lea rdx, [print_buffer+31]",
	"    sub rdx, rsi",
	"    syscall",
	"    mov rax, 1",
	"    mov rdi, 1",
	"    lea rsi, [newline]",
	"    mov rdx, 1",
	"    syscall",
	"    pop r13",
	"    pop r12",
	"    pop rbx",
	"    mov rsp, rbp",
	"    pop rbp",
	"    ret",
}

var printInt32 = []string{
	"print_int:",
	"    push ebp",
	"    mov ebp, esp",
	"    push ebx",
	"    push esi",
	"    push edi",
	"    mov eax, [ebp+8]",
	"    lea esi, [print_buffer+31]",
	"    mov byte [esi], 0",
	"    dec esi",
	"    mov ebx, 10",
	"    test eax, eax",
	"    jns .positive",
	"    neg eax",
	"    mov edi, 1",
	"    jmp .convert",
	".positive:",
	"    xor edi, edi",
	".convert:",
	"    xor edx, edx",
	"    div ebx",
	"    add dl, '0'",
	"    mov [esi], dl",
	"    dec esi",
	"    test eax, eax",
	"    jnz .convert",
	"    test edi, edi",
	"    jz .print",
	"    mov byte [esi], '-'",
	"    dec esi",
	".print:",
	"    inc esi",
	"    mov eax, 4",
	"    mov ebx, 1",
	"    mov ecx, esi",
	"    lea edx, [print_buffer+31]",
	"    sub edx, esi",
	"    int 0x80",
	"    mov eax, 4",
	"    mov ebx, 1",
	"    mov ecx, newline",
	"    mov edx, 1",
	"    int 0x80",
	"    pop edi",
	"    pop esi",
	"    pop ebx",
	"    mov esp, ebp",
	"    pop ebp",
	"    ret",
}

// DOS: int 0x21 / ah=0x40 writes cx bytes at ds:dx to handle bx.
var printInt16 = []string{
	"print_int:",
	"    push bp",
	"    mov bp, sp",
	"    push bx",
	"    push si",
	"    push di",
	"    mov ax, [bp+4]",
	"    lea si, [print_buffer+31]",
	"    mov byte [si], 0",
	"    dec si",
	"    mov bx, 10",
	"    test ax, ax",
	"    jns .positive",
	"    neg ax",
	"    mov di, 1",
	"    jmp .convert",
	".positive:",
	"    xor di, di",
	".convert:",
	"    xor dx, dx",
	"    div bx",
	"    add dl, '0'",
	"    mov [si], dl",
	"    dec si",
	"    test ax, ax",
	"    jnz .convert",
	"    test di, di",
	"    jz .print",
	"    mov byte [si], '-'",
	"    dec si",
	".print:",
	"    inc si",
	"    mov ah, 0x40",
	"    mov bx, 1",
	"    lea cx, [print_buffer+31]",
	"    sub cx, si",
	"    mov dx, si",
	"    int 0x21",
	"    mov ah, 0x40",
	"    mov bx, 1",
	"    mov cx, 1",
	"    mov dx, newline",
	"    int 0x21",
	"    pop di",
	"    pop si",
	"    pop bx",
	"    mov sp, bp",
	"    pop bp",
	"    ret",
}

// The integer digits end at float_buf+30; the decimal point overwrites the
// terminator at float_buf+31 so the written range is contiguous.
var printFloat64 = []string{
	"print_float:",
	"    push rbp",
	"    mov rbp, rsp",
	"    push rbx",
	"    push r12",
	"    push r13",
	"    push r14",
	"    push r15",
	"    movss xmm0, [rbp+16]",
	"    cvtss2sd xmm0, xmm0",
	"    pxor xmm1, xmm1",
	"    ucomisd xmm0, xmm1",
	"    jae .positive_float",
	"    mov r14, 1",
	"    movsd xmm1, xmm0",
	"    xorpd xmm0, xmm0",
	"    subsd xmm0, xmm1",
	"    jmp .extract_int",
	".positive_float:",
	"    xor r14, r14",
	".extract_int:",
	"    cvttsd2si rax, xmm0",
	"    cvtsi2sd xmm1, rax",
	"    subsd xmm0, xmm1",
	"    lea rsi, [float_buf+31]",
	"    mov byte [rsi], 0",
	"    dec rsi",
	"    mov rbx, 10",
	".int_loop:",
	"    xor rdx, rdx",
	"    div rbx",
	"    add dl, '0'",
	"    mov [rsi], dl",
	"    dec rsi",
	"    test rax, rax",
	"    jnz .int_loop",
	"    test r14, r14",
	"    jz .write_point",
	"    mov byte [rsi], '-'",
	"    dec rsi",
	".write_point:",
	"    inc rsi",
	"    mov r14, rsi",
	"    lea rsi, [float_buf+31]",
	"    mov byte [rsi], '.'",
	"    inc rsi",
	"    mov rcx, 6",
	".frac_loop:",
	"    mov r15, 10",
	"    cvtsi2sd xmm2, r15",
	"    mulsd xmm0, xmm2",
	"    cvttsd2si r12, xmm0",
	"    cvtsi2sd xmm1, r12",
	"    subsd xmm0, xmm1",
	"    add r12, '0'",
	"    mov [rsi], r12b",
	"    inc rsi",
	"    loop .frac_loop",
	"    mov byte [rsi], 10",
	"    inc rsi",
	"    mov rax, 1",
	"    mov rdi, 1",
	"    mov rdx, rsi",
	"    sub rdx, r14",
	"    mov rsi, r14",
	"    syscall",
	"    pop r15",
	"    pop r14",
	"    pop r13",
	"    pop r12",
	"    pop rbx",
	"    mov rsp, rbp",
	"    pop rbp",
	"    ret",
}

var printFloat32 = []string{
	"print_float:",
	"    push ebp",
	"    mov ebp, esp",
	"    push ebx",
	"    push esi",
	"    push edi",
	"    movss xmm0, [ebp+8]",
	"    cvtss2sd xmm0, xmm0",
	"    pxor xmm1, xmm1",
	"    ucomisd xmm0, xmm1",
	"    jae .positive_float",
	"    mov edi, 1",
	"    movsd xmm1, xmm0",
	"    xorpd xmm0, xmm0",
	"    subsd xmm0, xmm1",
	"    jmp .extract_int",
	".positive_float:",
	"    xor edi, edi",
	".extract_int:",
	"    cvttsd2si eax, xmm0",
	"    cvtsi2sd xmm1, eax",
	"    subsd xmm0, xmm1",
	"    lea esi, [float_buf+31]",
	"    mov byte [esi], 0",
	"    dec esi",
	"    mov ebx, 10",
	".int_loop:",
	"    xor edx, edx",
	"    div ebx",
	"    add dl, '0'",
	"    mov [esi], dl",
	"    dec esi",
	"    test eax, eax",
	"    jnz .int_loop",
	"    test edi, edi",
	"    jz .write_point",
	"    mov byte [esi], '-'",
	"    dec esi",
	".write_point:",
	"    inc esi",
	"    push esi",
	"    lea esi, [float_buf+31]",
	"    mov byte [esi], '.'",
	"    inc esi",
	"    mov ecx, 6",
	".frac_loop:",
	"    push ecx",
	"    mov ecx, 10",
	"    cvtsi2sd xmm2, ecx",
	"    mulsd xmm0, xmm2",
	"    cvttsd2si ecx, xmm0",
	"    push ecx",
	"    cvtsi2sd xmm1, ecx",
	"    subsd xmm0, xmm1",
	"    pop ecx",
	"    add cl, '0'",
	"    mov [esi], cl",
	"    inc esi",
	"    pop ecx",
	"    loop .frac_loop",
	"    mov byte [esi], 10",
	"    inc esi",
	"    mov eax, 4",
	"    mov ebx, 1",
	"    pop ecx",
	"    mov edx, esi",
	"    sub edx, ecx",
	"    int 0x80",
	"    pop edi",
	"    pop esi",
	"    pop ebx",
	"    mov esp, ebp",
	"    pop ebp",
	"    ret",
}

// Real mode has no SSE arithmetic to rely on here, so the 16-bit routine
// uses the x87 unit with truncating rounding. Locals: [bp-2] saved control
// word, [bp-4] truncating control word, [bp-6] scratch, [bp-8] digit.
var printFloat16 = []string{
	"print_float:",
	"    push bp",
	"    mov bp, sp",
	"    sub sp, 8",
	"    push bx",
	"    push si",
	"    push di",
	"    fnstcw [bp-2]",
	"    mov ax, [bp-2]",
	"    or ax, 0x0C00",
	"    mov [bp-4], ax",
	"    fldcw [bp-4]",
	"    fld dword [bp+4]",
	"    ftst",
	"    fnstsw ax",
	"    sahf",
	"    jae .positive_float",
	"    mov di, 1",
	"    fabs",
	"    jmp .extract_int",
	".positive_float:",
	"    xor di, di",
	".extract_int:",
	"    fld st0",
	"    fistp word [bp-6]",
	"    fild word [bp-6]",
	"    fsubp st1, st0",
	"    mov ax, [bp-6]",
	"    lea si, [float_buf+31]",
	"    mov byte [si], 0",
	"    dec si",
	"    mov bx, 10",
	".int_loop:",
	"    xor dx, dx",
	"    div bx",
	"    add dl, '0'",
	"    mov [si], dl",
	"    dec si",
	"    test ax, ax",
	"    jnz .int_loop",
	"    test di, di",
	"    jz .write_point",
	"    mov byte [si], '-'",
	"    dec si",
	".write_point:",
	"    inc si",
	"    mov di, si",
	"    lea si, [float_buf+31]",
	"    mov byte [si], '.'",
	"    inc si",
	"    mov cx, 6",
	".frac_loop:",
	"    mov word [bp-6], 10",
	"    fimul word [bp-6]",
	"    fld st0",
	"    fistp word [bp-8]",
	"    fild word [bp-8]",
	"    fsubp st1, st0",
	"    mov ax, [bp-8]",
	"    add al, '0'",
	"    mov [si], al",
	"    inc si",
	"    loop .frac_loop",
	"    mov byte [si], 10",
	"    inc si",
	"    fstp st0",
	"    mov ah, 0x40",
	"    mov bx, 1",
	"    mov cx, si",
	"    sub cx, di",
	"    mov dx, di",
	"    int 0x21",
	"    fldcw [bp-2]",
	"    pop di",
	"    pop si",
	"    pop bx",
	"    mov sp, bp",
	"    pop bp",
	"    ret",
}
