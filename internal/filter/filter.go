package filter

import "github.com/embarknet/udprelay/internal/netaddr"

// BasicFilter implements §4.3's cheap pre-check: accept any passthrough
// packet outright, and for everything else require both a minimum length
// and that every forced chonkle byte's top bits match its position's tag.
// It does not require knowledge of the (from, to, magic) tuple, so it can
// never fully authenticate a packet -- that is AdvancedFilter's job.
func BasicFilter(data []byte) bool {
	if len(data) > 0 && data[0] == 0x00 {
		return true
	}
	if len(data) < MinFilteredPacketSize {
		return false
	}
	if _, ok := wireAllowList[PacketType(data[0])]; !ok {
		return false
	}
	return BasicChonkleCheck(data)
}

// AdvancedFilter implements §4.3's full check: passthrough packets always
// pass; everything else must carry a chonkle and pittle that match the ones
// recomputed from (from, to, len(data), magic).
func AdvancedFilter(data []byte, from, to netaddr.Address, magic [8]byte) bool {
	if len(data) > 0 && data[0] == 0x00 {
		return true
	}
	if len(data) < MinFilteredPacketSize {
		return false
	}
	tuple := Tuple{Magic: magic, From: from, To: to, Length: len(data)}
	return VerifyChonkle(data, tuple) && VerifyPittle(data, tuple)
}

// WriteChecksums computes and writes both the chonkle and the pittle for a
// packet of the given addresses and magic directly into data, which must
// already be sized to its final length (chonkle at data[1:16], pittle at
// data[len-2:len]). Used by the accelerator bridge when it rewrites outgoing
// packets so they satisfy AdvancedFilter as if the proxy itself had
// generated them (§4.7, send_packet_to_address_callback).
func WriteChecksums(data []byte, from, to netaddr.Address, magic [8]byte) {
	tuple := Tuple{Magic: magic, From: from, To: to, Length: len(data)}
	GenerateChonkle(data[ChonkleOffset:ChonkleOffset+ChonkleSize], tuple)
	GeneratePittle(data[len(data)-PittleSize:], tuple)
}
