/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package catalog

import "github.com/tinylib/msgp/msgp"

// MarshalMsg/UnmarshalMsg implement msgp.Marshaler/msgp.Unmarshaler for
// chunkDoc and historyDoc by hand, in the shape tinylib/msgp's generator
// would produce for these fields: a map header keyed by the same strings
// as the json tags above, one Append/Read pair per field, in declaration
// order.

func (z *chunkDoc) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.AppendMapHeader(b, 11)
	o = msgp.AppendString(o, "ns")
	o = msgp.AppendString(o, z.Namespace)
	o = msgp.AppendString(o, "min")
	o = msgp.AppendBytes(o, z.MinRaw)
	o = msgp.AppendString(o, "minSent")
	o = msgp.AppendInt8(o, z.MinSent)
	o = msgp.AppendString(o, "max")
	o = msgp.AppendBytes(o, z.MaxRaw)
	o = msgp.AppendString(o, "maxSent")
	o = msgp.AppendInt8(o, z.MaxSent)
	o = msgp.AppendString(o, "shard")
	o = msgp.AppendString(o, z.Shard)
	o = msgp.AppendString(o, "epoch")
	o = msgp.AppendString(o, z.Epoch)
	o = msgp.AppendString(o, "major")
	o = msgp.AppendUint32(o, z.Major)
	o = msgp.AppendString(o, "minor")
	o = msgp.AppendUint32(o, z.Minor)
	o = msgp.AppendString(o, "jumbo")
	o = msgp.AppendBool(o, z.Jumbo)
	o = msgp.AppendString(o, "history")
	o = msgp.AppendArrayHeader(o, uint32(len(z.History)))
	for _, h := range z.History {
		o, err = h.MarshalMsg(o)
		if err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (z *chunkDoc) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return nil, err
		}
		switch string(field) {
		case "ns":
			z.Namespace, bts, err = msgp.ReadStringBytes(bts)
		case "min":
			z.MinRaw, bts, err = msgp.ReadBytesBytes(bts, z.MinRaw)
		case "minSent":
			z.MinSent, bts, err = msgp.ReadInt8Bytes(bts)
		case "max":
			z.MaxRaw, bts, err = msgp.ReadBytesBytes(bts, z.MaxRaw)
		case "maxSent":
			z.MaxSent, bts, err = msgp.ReadInt8Bytes(bts)
		case "shard":
			z.Shard, bts, err = msgp.ReadStringBytes(bts)
		case "epoch":
			z.Epoch, bts, err = msgp.ReadStringBytes(bts)
		case "major":
			z.Major, bts, err = msgp.ReadUint32Bytes(bts)
		case "minor":
			z.Minor, bts, err = msgp.ReadUint32Bytes(bts)
		case "jumbo":
			z.Jumbo, bts, err = msgp.ReadBoolBytes(bts)
		case "history":
			var hn uint32
			hn, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return nil, err
			}
			if cap(z.History) >= int(hn) {
				z.History = z.History[:hn]
			} else {
				z.History = make([]historyDoc, hn)
			}
			for j := range z.History {
				bts, err = z.History[j].UnmarshalMsg(bts)
				if err != nil {
					return nil, err
				}
			}
			continue
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return nil, err
		}
	}
	return bts, nil
}

func (z *historyDoc) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.AppendMapHeader(b, 2)
	o = msgp.AppendString(o, "validAfter")
	o = msgp.AppendTime(o, z.ValidAfter)
	o = msgp.AppendString(o, "shard")
	o = msgp.AppendString(o, z.Shard)
	return o, nil
}

func (z *historyDoc) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return nil, err
		}
		switch string(field) {
		case "validAfter":
			z.ValidAfter, bts, err = msgp.ReadTimeBytes(bts)
		case "shard":
			z.Shard, bts, err = msgp.ReadStringBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return nil, err
		}
	}
	return bts, nil
}
