// Copyright 2026 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mgr

import (
	"github.com/pkg/errors"

	"github.com/intel/intel-fpga-manager/pkg/fpga/dmabuf"
	"github.com/intel/intel-fpga-manager/pkg/fpga/sg"
)

// Load programs the FPGA from the first populated source of info, in the
// order dma-buf, SGT, Buf, FirmwareName. On success the manager is left
// operating. Load doesn't take the manager lock, callers that may race
// use TryLoad.
func (m *Manager) Load(info *ImageInfo) error {
	if info == nil {
		return errors.Wrapf(ErrInvalidImage, "%s: nil image info", m.DevName())
	}

	var err error

	switch {
	case info.Flags&FlagConfigDmaBuf != 0:
		err = m.dmabufLoad(info)
	case info.SGT != nil:
		err = m.sgLoad(info, info.SGT)
	case info.Buf != nil:
		err = m.bufLoad(info, info.Buf)
	case info.FirmwareName != "":
		err = m.firmwareLoad(info, info.FirmwareName)
	default:
		return errors.Wrapf(ErrInvalidImage, "%s: no image source", m.DevName())
	}

	m.loads.Add(1)

	if err != nil {
		m.failures.Add(1)
	}

	return err
}

func (m *Manager) writeInit(info *ImageInfo, header []byte) error {
	m.setState(StateWriteInit)

	if err := m.ops.WriteInit(m, info, header); err != nil {
		m.logger.Error(err, "Error preparing FPGA for writing")
		m.setState(StateWriteInitErr)

		return err
	}

	return nil
}

func (m *Manager) writeInitBuf(info *ImageInfo, buf []byte) error {
	if m.header == 0 {
		return m.writeInit(info, nil)
	}

	return m.writeInit(info, buf[:min(m.header, len(buf))])
}

// writeInitSG hands WriteInit the first fragment when it covers the header,
// otherwise a copy of the leading bytes gathered across fragments.
func (m *Manager) writeInitSG(info *ImageInfo, sgt *sg.Table) error {
	if m.header == 0 {
		return m.writeInit(info, nil)
	}

	it := sg.NewMappingIter(sgt)
	if it.Next() && it.Length >= m.header {
		header := it.Addr
		it.Stop()

		return m.writeInit(info, header)
	}

	it.Stop()

	header := make([]byte, m.header)
	n := sg.CopyToBuffer(sgt, header)

	return m.writeInit(info, header[:n])
}

func (m *Manager) writeFailed(err error) error {
	m.logger.Error(err, "Error while writing image data to FPGA")
	m.setState(StateWriteErr)

	return err
}

func (m *Manager) writeComplete(info *ImageInfo) error {
	m.setState(StateWriteComplete)

	if err := m.ops.WriteComplete(m, info); err != nil {
		m.logger.Error(err, "Error after writing image data to FPGA")
		m.setState(StateWriteCompleteErr)

		return err
	}

	m.setState(StateOperating)

	return nil
}

func (m *Manager) sgLoad(info *ImageInfo, sgt *sg.Table) error {
	m.persist(info)

	if err := m.writeInitSG(info, sgt); err != nil {
		return err
	}

	m.setState(StateWrite)

	if m.sgw != nil {
		if err := m.sgw.WriteSG(m, sgt); err != nil {
			return m.writeFailed(err)
		}

		return m.writeComplete(info)
	}

	it := sg.NewMappingIter(sgt)
	defer it.Stop()

	for it.Next() {
		if err := m.bufw.Write(m, it.Addr); err != nil {
			return m.writeFailed(err)
		}
	}

	return m.writeComplete(info)
}

// bufLoadMapped writes a flat image straight to a BufferWriter.
func (m *Manager) bufLoadMapped(info *ImageInfo, buf []byte) error {
	m.persist(info)

	if err := m.writeInitBuf(info, buf); err != nil {
		return err
	}

	m.setState(StateWrite)

	chunk := m.chunk
	if chunk <= 0 {
		chunk = len(buf)
	}

	for off := 0; ; {
		n := min(chunk, len(buf)-off)
		if err := m.bufw.Write(m, buf[off:off+n]); err != nil {
			return m.writeFailed(err)
		}

		off += n
		if off >= len(buf) {
			break
		}
	}

	return m.writeComplete(info)
}

func (m *Manager) bufLoad(info *ImageInfo, buf []byte) error {
	if m.bufw != nil {
		return m.bufLoadMapped(info, buf)
	}

	sgt, err := sg.FromBuffer(buf)
	if err != nil {
		return errors.Wrapf(err, "%s: building scatter-gather table", m.DevName())
	}
	defer sgt.Free()

	return m.sgLoad(info, sgt)
}

func (m *Manager) dmabufLoad(info *ImageInfo) error {
	if m.reg == nil || m.reg.dmabufs == nil {
		return errors.Wrapf(ErrNotSupported, "%s: dma-buf", m.DevName())
	}

	buf, err := m.reg.dmabufs.Get(info.DmaBufFD)
	if err != nil {
		return err
	}
	defer func() {
		if perr := buf.Put(); perr != nil {
			m.logger.Error(perr, "releasing dma-buf", "handle", info.DmaBufFD)
		}
	}()

	att, err := buf.Attach(m.DevName())
	if err != nil {
		return err
	}
	defer att.Detach()

	sgt, err := att.Map(dmabuf.ToDevice)
	if err != nil {
		return err
	}

	info.SGT = sgt
	defer func() {
		att.Unmap(sgt, dmabuf.ToDevice)
		info.SGT = nil
	}()

	return m.sgLoad(info, sgt)
}

func (m *Manager) firmwareLoad(info *ImageInfo, name string) error {
	m.logger.Info("writing image", "firmware", name)

	m.setState(StateFirmwareReq)

	m.attrMutex.Lock()
	info.Flags = m.flags
	info.Key = m.key
	m.attrMutex.Unlock()

	if m.reg == nil || m.reg.firmware == nil {
		m.setState(StateFirmwareReqErr)
		return errors.Wrapf(ErrNotSupported, "%s: firmware loading", m.DevName())
	}

	fw, err := m.reg.firmware.Request(name, m.DevName())
	if err != nil {
		m.setState(StateFirmwareReqErr)
		m.logger.Error(err, "requesting firmware", "firmware", name)

		return err
	}
	defer fw.Release()

	return m.bufLoad(info, fw.Data)
}
