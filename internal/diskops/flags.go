package diskops

// Mount flags as defined in <sys/mount.h> on macOS. Kept here rather than
// pulled from x/sys/unix so flag arithmetic is testable on any platform.
const (
	MntRdonly          uint32 = 0x00000001
	MntSynchronous     uint32 = 0x00000002
	MntNoexec          uint32 = 0x00000004
	MntNosuid          uint32 = 0x00000008
	MntNodev           uint32 = 0x00000010
	MntUnion           uint32 = 0x00000020
	MntAsync           uint32 = 0x00000040
	MntRemovable       uint32 = 0x00000200
	MntLocal           uint32 = 0x00001000
	MntQuota           uint32 = 0x00002000
	MntRootFS          uint32 = 0x00004000
	MntDontBrowse      uint32 = 0x00100000
	MntIgnoreOwnership uint32 = 0x00200000
	MntAutomounted     uint32 = 0x00400000
	MntJournaled       uint32 = 0x00800000
	MntNoUserXattr     uint32 = 0x01000000
	MntDefWrite        uint32 = 0x02000000
	MntNoatime         uint32 = 0x10000000
)
