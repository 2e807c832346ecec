package types

import (
	"sync/atomic"
)

type StatisticsItem struct {
	Count uint64 `json:",omitempty"`
	Bytes uint64 `json:",omitempty"`
}

type StatisticsSubSection struct {
	Unknown StatisticsItem `json:",omitempty"`
	Other   StatisticsItem `json:",omitempty"`
	Video   StatisticsItem `json:",omitempty"`
	Audio   StatisticsItem `json:",omitempty"`
}

type StatisticsSection struct {
	Missed    StatisticsSubSection
	Received  StatisticsSubSection
	Processed StatisticsSubSection
	Generated StatisticsSubSection
	Sent      StatisticsSubSection
}

type Statistics struct {
	Frames StatisticsSection
}

type CountersItem struct {
	Count atomic.Uint64
	Bytes atomic.Uint64
}

func NewCountersItem() *CountersItem {
	return &CountersItem{}
}

func (c *CountersItem) Increment(msgSize uint64) {
	c.Count.Add(1)
	c.Bytes.Add(msgSize)
}

func (c *CountersItem) ToStats() StatisticsItem {
	return StatisticsItem{
		Count: c.Count.Load(),
		Bytes: c.Bytes.Load(),
	}
}

type CountersSubSection struct {
	Video   *CountersItem
	Audio   *CountersItem
	Other   *CountersItem
	Unknown *CountersItem
}

func NewCountersSubSection() CountersSubSection {
	return CountersSubSection{
		Video:   NewCountersItem(),
		Audio:   NewCountersItem(),
		Other:   NewCountersItem(),
		Unknown: NewCountersItem(),
	}
}

func (s *CountersSubSection) Increment(mediaType MediaType, msgSize uint64) {
	switch mediaType {
	case MediaTypeVideo:
		s.Video.Increment(msgSize)
	case MediaTypeAudio:
		s.Audio.Increment(msgSize)
	default:
		s.Other.Increment(msgSize)
	}
}

func (s *CountersSubSection) TotalCount() uint64 {
	var total uint64
	total += s.Video.Count.Load()
	total += s.Audio.Count.Load()
	total += s.Other.Count.Load()
	total += s.Unknown.Count.Load()
	return total
}

func (s *CountersSubSection) TotalBytes() uint64 {
	var total uint64
	total += s.Video.Bytes.Load()
	total += s.Audio.Bytes.Load()
	total += s.Other.Bytes.Load()
	total += s.Unknown.Bytes.Load()
	return total
}

func (s *CountersSubSection) ToStats() StatisticsSubSection {
	return StatisticsSubSection{
		Unknown: s.Unknown.ToStats(),
		Other:   s.Other.ToStats(),
		Video:   s.Video.ToStats(),
		Audio:   s.Audio.ToStats(),
	}
}

type CountersSection struct {
	Missed    CountersSubSection
	Received  CountersSubSection
	Processed CountersSubSection
	Generated CountersSubSection
	Sent      CountersSubSection
}

func NewCountersSection() CountersSection {
	return CountersSection{
		Missed:    NewCountersSubSection(),
		Received:  NewCountersSubSection(),
		Processed: NewCountersSubSection(),
		Generated: NewCountersSubSection(),
		Sent:      NewCountersSubSection(),
	}
}

func (s *CountersSection) ToStats() StatisticsSection {
	return StatisticsSection{
		Missed:    s.Missed.ToStats(),
		Received:  s.Received.ToStats(),
		Processed: s.Processed.ToStats(),
		Generated: s.Generated.ToStats(),
		Sent:      s.Sent.ToStats(),
	}
}

type Counters struct {
	Frames CountersSection
}

func NewCounters() *Counters {
	return &Counters{
		Frames: NewCountersSection(),
	}
}

func (c *Counters) ToStats() *Statistics {
	return &Statistics{
		Frames: c.Frames.ToStats(),
	}
}
