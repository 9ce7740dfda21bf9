package wasm

// ReferenceModule is a minimal wasm binary exporting
//
//	(func $fibonacci (export "fibonacci") (param $n i32) (result i32)
//	  (if (result i32) (i32.le_s (local.get $n) (i32.const 1))
//	    (then (local.get $n))
//	    (else (i32.add
//	      (call $fibonacci (i32.sub (local.get $n) (i32.const 1)))
//	      (call $fibonacci (i32.sub (local.get $n) (i32.const 2)))))))
//
// It needs no imports, so it runs without the Go wasip1 toolchain.
var ReferenceModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version

	// type section: (i32) -> i32
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,

	// function section: func 0 has type 0
	0x03, 0x02, 0x01, 0x00,

	// export section: "fibonacci" -> func 0
	0x07, 0x0d, 0x01, 0x09,
	'f', 'i', 'b', 'o', 'n', 'a', 'c', 'c', 'i',
	0x00, 0x00,

	// code section
	0x0a, 0x1e, 0x01, 0x1c,
	0x00,       // no locals
	0x20, 0x00, // local.get 0
	0x41, 0x01, // i32.const 1
	0x4c,       // i32.le_s
	0x04, 0x7f, // if (result i32)
	0x20, 0x00, //   local.get 0
	0x05,       // else
	0x20, 0x00, 0x41, 0x01, 0x6b, 0x10, 0x00, // call 0 (n - 1)
	0x20, 0x00, 0x41, 0x02, 0x6b, 0x10, 0x00, // call 0 (n - 2)
	0x6a, // i32.add
	0x0b, // end if
	0x0b, // end func
}
